package provider

import (
	"strings"

	"github.com/digkill/MediaGenBot/internal/catalog"
)

// nested keys searched in object outputs, most specific first
var objectKeys = []string{
	"url", "video_url", "audio_url", "image_url",
	"video", "audio", "audio_file", "image", "images",
	"output", "result", "resultUrls",
}

// NormalizeOutput turns a decoded provider output into a Result. Accepted
// shapes are a bare string, a list of strings or objects, and objects
// carrying a url directly or under a media key. Text models may also return
// a list of tokens. For lists the first element carrying a URL wins.
func NormalizeOutput(kind catalog.OutputKind, raw any) (Result, error) {
	if kind == catalog.OutputText {
		if text := joinText(raw); strings.TrimSpace(text) != "" {
			return Result{Text: strings.TrimSpace(text)}, nil
		}
		return Result{}, ErrEmptyOutput
	}

	urls := collectURLs(raw, 0)
	if len(urls) == 0 {
		return Result{}, ErrEmptyOutput
	}
	return Result{URL: urls[0]}, nil
}

func joinText(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []any:
		var b strings.Builder
		for _, item := range v {
			if s, ok := item.(string); ok {
				b.WriteString(s)
			}
		}
		return b.String()
	case []string:
		return strings.Join(v, "")
	case map[string]any:
		for _, key := range []string{"output", "text", "result"} {
			if inner, ok := v[key]; ok {
				if s := joinText(inner); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func collectURLs(raw any, depth int) []string {
	if depth > 4 {
		return nil
	}
	switch v := raw.(type) {
	case string:
		if isURL(v) {
			return []string{v}
		}
	case []string:
		var out []string
		for _, s := range v {
			if isURL(s) {
				out = append(out, s)
			}
		}
		return out
	case []any:
		var out []string
		for _, item := range v {
			out = append(out, collectURLs(item, depth+1)...)
		}
		return out
	case map[string]any:
		for _, key := range objectKeys {
			if inner, ok := v[key]; ok {
				if urls := collectURLs(inner, depth+1); len(urls) > 0 {
					return urls
				}
			}
		}
	}
	return nil
}

func isURL(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
