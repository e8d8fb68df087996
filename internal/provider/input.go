package provider

import (
	"fmt"
	"maps"

	"github.com/digkill/MediaGenBot/internal/catalog"
)

// BuildInput maps the collected parameters onto the provider input schema
// declared by the model. Static values are copied first and mapped fields
// override them.
func BuildInput(model catalog.Model, prompt, mediaURL string, choices map[string]string) (map[string]any, error) {
	input := make(map[string]any, len(model.Static)+len(model.Input))
	maps.Copy(input, model.Static)

	for field, src := range model.Input {
		switch src {
		case catalog.SourcePrompt:
			input[field] = prompt
		case catalog.SourceMedia:
			if mediaURL == "" {
				return nil, fmt.Errorf("model %s: field %s needs media", model.ID, field)
			}
			input[field] = mediaURL
		case catalog.SourceMediaList:
			if mediaURL == "" {
				return nil, fmt.Errorf("model %s: field %s needs media", model.ID, field)
			}
			input[field] = []string{mediaURL}
		default:
			choice, ok := model.Choice(src)
			if !ok {
				return nil, fmt.Errorf("model %s: field %s maps unknown choice %s", model.ID, field, src)
			}
			token, ok := choices[src]
			if !ok {
				return nil, fmt.Errorf("model %s: choice %s not collected", model.ID, src)
			}
			opt, ok := choice.Option(token)
			if !ok {
				return nil, fmt.Errorf("model %s: choice %s has no option %q", model.ID, src, token)
			}
			input[field] = opt.Value
		}
	}
	return input, nil
}
