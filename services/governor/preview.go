package governor

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Preview renders the human-readable dry-run for an action with the caller's
// parameters applied, and classifies its risk. The proposed action-log append
// is best-effort: a logging failure never blocks the preview.
func (a *API) Preview(ctx context.Context, actionID string, params map[string]any, chatID, userID *string) (ActionPreview, string, error) {
	action, err := a.catalog.Lookup(actionID)
	if err != nil {
		return ActionPreview{}, "", err
	}

	commands, err := renderCommands(action, params)
	if err != nil {
		return ActionPreview{}, "", err
	}

	preview := ActionPreview{
		Description:   action.Description,
		Commands:      commands,
		Risks:         append([]string(nil), action.Risks...),
		Reversible:    action.Reversible,
		EstimatedTime: action.EstimatedTime,
		Requirements:  append([]string(nil), action.Requirements...),
	}

	if a.renderer != nil {
		rendered, err := a.renderer.Render("preview.tmpl", map[string]any{
			"Title":         action.Title,
			"OS":            action.OS,
			"Description":   action.Description,
			"Commands":      commands,
			"Requirements":  action.Requirements,
			"Risks":         action.Risks,
			"Reversible":    action.Reversible,
			"EstimatedTime": action.EstimatedTime,
		})
		if err == nil {
			preview.Description = strings.TrimSpace(rendered)
		}
	}

	if _, err := a.appendActionLog(ctx, chatID, userID, action.ID, StatusProposed,
		fmt.Sprintf("proposed %s", action.Title),
		map[string]any{
			"action_id":  action.ID,
			"commands":   commands,
			"risk_level": RiskLevel(action),
		}, "", ""); err != nil {
		log.Warn().Err(err).Str("action_id", action.ID).Msg("append proposed action log")
	}

	return preview, RiskLevel(action), nil
}

// renderCommands merges the static command templates with caller parameters.
// Unknown parameter keys are rejected; missing ones fall back to catalog
// defaults.
func renderCommands(action AllowlistedAction, params map[string]any) ([]string, error) {
	values, err := parameterValues(action, params)
	if err != nil {
		return nil, err
	}
	return renderTemplates(action.Commands, values)
}

// parameterValues validates caller parameters against the action's declared
// parameter list and fills in catalog defaults.
func parameterValues(action AllowlistedAction, params map[string]any) (map[string]string, error) {
	allowed := make(map[string]bool, len(action.Parameters))
	for _, key := range action.Parameters {
		allowed[key] = true
	}

	for key := range params {
		if !allowed[key] {
			return nil, fmt.Errorf("%w: unknown parameter %q for action %q", ErrValidation, key, action.ID)
		}
	}

	values := make(map[string]string, len(action.Parameters))
	for key, def := range action.Defaults {
		values[key] = def
	}
	for key, raw := range params {
		rendered, err := parameterValue(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %q: %v", ErrValidation, key, err)
		}
		values[key] = rendered
	}

	for _, key := range action.Parameters {
		if _, ok := values[key]; !ok {
			return nil, fmt.Errorf("%w: missing parameter %q for action %q", ErrValidation, key, action.ID)
		}
	}

	return values, nil
}

func renderTemplates(templates []string, values map[string]string) ([]string, error) {
	out := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		rendered := tmpl
		for key, value := range values {
			rendered = strings.ReplaceAll(rendered, "{"+key+"}", value)
		}
		if start := strings.Index(rendered, "{"); start >= 0 && strings.Contains(rendered[start:], "}") {
			return nil, fmt.Errorf("%w: unresolved placeholder in %q", ErrValidation, rendered)
		}
		out = append(out, rendered)
	}
	return out, nil
}

// parameterValue renders a caller parameter. Strings pass through; lists are
// joined with spaces so path and browser lists substitute naturally.
func parameterValue(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return "", fmt.Errorf("empty value")
		}
		return v, nil
	case []any:
		if len(v) == 0 {
			return "", fmt.Errorf("empty list")
		}
		parts := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return "", fmt.Errorf("list values must be non-empty strings")
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, " "), nil
	case []string:
		if len(v) == 0 {
			return "", fmt.Errorf("empty list")
		}
		return strings.Join(v, " "), nil
	default:
		return "", fmt.Errorf("unsupported type %T", raw)
	}
}
