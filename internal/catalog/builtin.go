package catalog

import "github.com/shopspring/decimal"

const (
	ProviderReplicate = "replicate"
	ProviderFal       = "fal"
	ProviderKie       = "kie"
)

func opt(token, label string, value any) Option {
	return Option{Token: token, Label: label, Value: value}
}

func rule(price int64, match ...string) PriceRule {
	m := make(map[string]string, len(match)/2)
	for i := 0; i+1 < len(match); i += 2 {
		m[match[i]] = match[i+1]
	}
	return PriceRule{Match: m, Price: decimal.NewFromInt(price)}
}

func aspectChoice(tokens ...string) Choice {
	c := Choice{Key: "aspect_ratio", Prompt: "📐 Выберите соотношение сторон:"}
	for _, t := range tokens {
		c.Options = append(c.Options, opt(t, t, t))
	}
	return c
}

var durationChoice = Choice{
	Key:    "duration",
	Prompt: "⏱ Выберите длительность:",
	Options: []Option{
		opt("5", "5 сек", 5),
		opt("10", "10 сек", 10),
	},
}

// Builtin returns the default model catalog. Prices are in the payment currency.
func Builtin() []Model {
	return []Model{
		{
			ID:          "kling-v2.1",
			Title:       "🎬 Kling v2.1 (фото → видео)",
			Family:      FamilyVideo,
			Provider:    ProviderReplicate,
			Endpoint:    "kwaivgi/kling-v2.1",
			Media:       MediaImage,
			MediaPrompt: "📸 Пришлите фото, которое нужно оживить.",
			Choices: []Choice{
				{
					Key:    "mode",
					Prompt: "🎛 Выберите режим:",
					Options: []Option{
						opt("standard", "Standard 720p", "standard"),
						opt("pro", "Pro 1080p", "pro"),
					},
				},
				durationChoice,
			},
			PromptText:   "✍️ Опишите движение в кадре (минимум 15 символов).",
			MinPromptLen: 15,
			Output:       OutputVideo,
			Prices: PriceTable{Rules: []PriceRule{
				rule(140, "mode", "standard", "duration", "5"),
				rule(275, "mode", "standard", "duration", "10"),
				rule(250, "mode", "pro", "duration", "5"),
				rule(495, "mode", "pro", "duration", "10"),
			}},
			Input: map[string]string{
				"prompt":      SourcePrompt,
				"start_image": SourceMedia,
				"mode":        "mode",
				"duration":    "duration",
			},
			Static: map[string]any{"negative_prompt": ""},
		},
		{
			ID:          "seedance-1-pro",
			Title:       "🎥 Seedance 1 Pro (фото → видео)",
			Family:      FamilyVideo,
			Provider:    ProviderReplicate,
			Endpoint:    "bytedance/seedance-1-pro",
			Media:       MediaImage,
			MediaPrompt: "📸 Пришлите стартовый кадр.",
			Choices: []Choice{
				{
					Key:    "resolution",
					Prompt: "🖥 Выберите разрешение:",
					Options: []Option{
						opt("480p", "480p", "480p"),
						opt("1080p", "1080p", "1080p"),
					},
				},
				durationChoice,
				aspectChoice("16:9", "9:16", "1:1"),
				{
					Key:    "camera_fixed",
					Prompt: "🎥 Зафиксировать камеру?",
					Options: []Option{
						opt("fixed", "Да", true),
						opt("free", "Нет", false),
					},
				},
			},
			PromptText:   "✍️ Опишите сцену (минимум 15 символов).",
			MinPromptLen: 15,
			Output:       OutputVideo,
			Prices: PriceTable{Rules: []PriceRule{
				rule(80, "resolution", "480p", "duration", "5"),
				rule(120, "resolution", "480p", "duration", "10"),
				rule(150, "resolution", "1080p", "duration", "5"),
				rule(250, "resolution", "1080p", "duration", "10"),
			}},
			Input: map[string]string{
				"prompt":       SourcePrompt,
				"image":        SourceMedia,
				"resolution":   "resolution",
				"duration":     "duration",
				"aspect_ratio": "aspect_ratio",
				"camera_fixed": "camera_fixed",
			},
			Static: map[string]any{"fps": 24},
		},
		{
			ID:           "minimax-video-01-live",
			Title:        "📽 Minimax Video-01 Live",
			Family:       FamilyVideo,
			Provider:     ProviderReplicate,
			Endpoint:     "minimax/video-01-live",
			Media:        MediaImage,
			MediaPrompt:  "📸 Пришлите изображение для анимации.",
			PromptText:   "✍️ Опишите анимацию (минимум 10 символов).",
			MinPromptLen: 10,
			Output:       OutputVideo,
			Prices:       Fixed("150"),
			Input: map[string]string{
				"prompt":            SourcePrompt,
				"first_frame_image": SourceMedia,
			},
			Static: map[string]any{"prompt_optimizer": true},
		},
		{
			ID:           "veo-3",
			Title:        "🌟 Google Veo 3",
			Family:       FamilyVideo,
			Provider:     ProviderReplicate,
			Endpoint:     "google/veo-3",
			PromptText:   "✍️ Опишите видео (минимум 15 символов).",
			MinPromptLen: 15,
			Output:       OutputVideo,
			Prices:       Fixed("600"),
			Input:        map[string]string{"prompt": SourcePrompt},
			Static:       map[string]any{"enhance_prompt": true, "seed": 42},
		},
		{
			ID:           "veo3-fal",
			Title:        "🌟 Google Veo 3 (8 сек, со звуком)",
			Family:       FamilyVideo,
			Provider:     ProviderFal,
			Endpoint:     "fal-ai/veo3",
			Choices:      []Choice{aspectChoice("16:9", "9:16")},
			PromptText:   "✍️ Опишите видео (минимум 15 символов).",
			MinPromptLen: 15,
			Output:       OutputVideo,
			Prices:       Fixed("660"),
			Input: map[string]string{
				"prompt":       SourcePrompt,
				"aspect_ratio": "aspect_ratio",
			},
			Static: map[string]any{"duration": "8s", "generate_audio": true},
		},
		{
			ID:          "flux-kontext-cartoon",
			Title:       "🎨 Фото → мультфильм (Flux Kontext Pro)",
			Family:      FamilyImage,
			Provider:    ProviderReplicate,
			Endpoint:    "black-forest-labs/flux-kontext-pro",
			Media:       MediaImage,
			MediaPrompt: "📸 Пришлите фото для стилизации.",
			Choices: []Choice{
				aspectChoice("match_input_image", "1:1", "16:9", "9:16"),
				{
					Key:    "style",
					Prompt: "🖌 Выберите стиль:",
					Options: []Option{
						opt("pixar", "Pixar", "in the style of a Pixar 3D cartoon"),
						opt("anime", "Аниме", "in the style of a Japanese anime"),
						opt("comic", "Комикс", "in the style of a comic book illustration"),
					},
				},
				{
					Key:    "safety_tolerance",
					Prompt: "🛡 Уровень фильтра безопасности:",
					Options: []Option{
						opt("1", "Строгий", 1),
						opt("2", "Средний", 2),
						opt("3", "Мягкий", 3),
					},
				},
			},
			PromptText:   "✍️ Что изменить на фото? (минимум 10 символов)",
			MinPromptLen: 10,
			Output:       OutputImage,
			Prices:       Fixed("9"),
			Input: map[string]string{
				"prompt":           SourcePrompt,
				"input_image":      SourceMedia,
				"aspect_ratio":     "aspect_ratio",
				"style":            "style",
				"safety_tolerance": "safety_tolerance",
			},
			Static: map[string]any{"output_format": "jpg"},
		},
		{
			ID:           "imagen-4",
			Title:        "🖼 Google Imagen 4",
			Family:       FamilyImage,
			Provider:     ProviderReplicate,
			Endpoint:     "google/imagen-4",
			Choices:      []Choice{aspectChoice("1:1", "9:16", "16:9")},
			PromptText:   "✍️ Опишите изображение (минимум 15 символов).",
			MinPromptLen: 15,
			Output:       OutputImage,
			Prices:       Fixed("9"),
			Input: map[string]string{
				"prompt":       SourcePrompt,
				"aspect_ratio": "aspect_ratio",
			},
			Static: map[string]any{"safety_filter_level": "block_only_high"},
		},
		{
			ID:       "ideogram-v3-turbo",
			Title:    "🖋 Ideogram v3 Turbo",
			Family:   FamilyImage,
			Provider: ProviderReplicate,
			Endpoint: "ideogram-ai/ideogram-v3-turbo",
			Choices: []Choice{
				aspectChoice("1:1", "2:3", "3:2", "16:9", "9:16"),
				{
					Key:    "style_type",
					Prompt: "🖌 Выберите стиль:",
					Options: []Option{
						opt("auto", "Авто", "Auto"),
						opt("general", "Общий", "General"),
						opt("realistic", "Реализм", "Realistic"),
						opt("design", "Дизайн", "Design"),
					},
				},
			},
			PromptText:   "✍️ Опишите изображение (минимум 15 символов).",
			MinPromptLen: 15,
			Output:       OutputImage,
			Prices:       Fixed("9"),
			FreeEligible: true,
			Input: map[string]string{
				"prompt":       SourcePrompt,
				"aspect_ratio": "aspect_ratio",
				"style_type":   "style_type",
			},
			Static: map[string]any{"magic_prompt_option": "Auto"},
		},
		{
			ID:       "musicgen",
			Title:    "🎵 MusicGen",
			Family:   FamilyAudio,
			Provider: ProviderReplicate,
			Endpoint: "meta/musicgen:671ac645ce5e552cc63a54a2bbff63fcf798043055d2dac5fc9e36a837eedcfb",
			Choices: []Choice{
				{
					Key:    "model_version",
					Prompt: "🎚 Выберите версию модели:",
					Options: []Option{
						opt("stereo-large", "Stereo Large", "stereo-large"),
						opt("stereo-melody", "Stereo Melody Large", "stereo-melody-large"),
						opt("melody-large", "Melody Large", "melody-large"),
						opt("large", "Large", "large"),
					},
				},
				{
					Key:    "normalization_strategy",
					Prompt: "🔊 Нормализация громкости:",
					Options: []Option{
						opt("loudness", "Loudness", "loudness"),
						opt("clip", "Clip", "clip"),
						opt("peak", "Peak", "peak"),
						opt("rms", "RMS", "rms"),
					},
				},
			},
			PromptText:   "✍️ Опишите музыку (минимум 5 символов).",
			MinPromptLen: 5,
			Output:       OutputAudio,
			Prices:       Fixed("9"),
			Input: map[string]string{
				"prompt":                 SourcePrompt,
				"model_version":          "model_version",
				"normalization_strategy": "normalization_strategy",
			},
			Static: map[string]any{"duration": 8, "output_format": "mp3"},
		},
		{
			ID:       "chatterbox",
			Title:    "🗣 Chatterbox (озвучка текста)",
			Family:   FamilyVoice,
			Provider: ProviderReplicate,
			Endpoint: "resemble-ai/chatterbox",
			Choices: []Choice{
				{
					Key:    "temperature",
					Prompt: "🌡 Выберите вариативность речи:",
					Options: []Option{
						opt("0.2", "Спокойно", 0.2),
						opt("0.5", "Нейтрально", 0.5),
						opt("0.8", "Живо", 0.8),
					},
				},
				{
					Key:    "seed",
					Prompt: "🎲 Выберите голос:",
					Options: []Option{
						opt("0", "Голос 1", 0),
						opt("42", "Голос 2", 42),
						opt("123", "Голос 3", 123),
					},
				},
			},
			PromptText:   "✍️ Пришлите текст для озвучки (минимум 10 символов).",
			MinPromptLen: 10,
			Output:       OutputAudio,
			Prices:       Fixed("9"),
			FreeEligible: true,
			Input: map[string]string{
				"prompt":      SourcePrompt,
				"temperature": "temperature",
				"seed":        "seed",
			},
			Static: map[string]any{"exaggeration": 0.5, "cfg_weight": 0.5},
		},
		{
			ID:           "gpt-translate",
			Title:        "🌐 Перевод промпта на английский",
			Family:       FamilyText,
			Provider:     ProviderReplicate,
			Endpoint:     "openai/gpt-4.1-nano",
			PromptText:   "✍️ Пришлите текст для перевода.",
			MinPromptLen: 2,
			Output:       OutputText,
			Prices:       Fixed("1"),
			Input:        map[string]string{"prompt": SourcePrompt},
			Static: map[string]any{
				"system_prompt": "Translate the user's text into English. Reply with the translation only.",
			},
		},
		{
			ID:       "flux-2-pro",
			Title:    "⚡️ Flux 2 Pro",
			Family:   FamilyImage,
			Provider: ProviderKie,
			Endpoint: "flux-2/pro-text-to-image",
			Choices: []Choice{
				aspectChoice("1:1", "16:9", "9:16"),
				{
					Key:    "resolution",
					Prompt: "🖥 Выберите разрешение:",
					Options: []Option{
						opt("1K", "1K", "1K"),
						opt("2K", "2K", "2K"),
					},
				},
			},
			PromptText:   "✍️ Опишите изображение (минимум 5 символов).",
			MinPromptLen: 5,
			Output:       OutputImage,
			Prices: PriceTable{Rules: []PriceRule{
				rule(9, "resolution", "1K"),
				rule(14, "resolution", "2K"),
			}},
			Input: map[string]string{
				"prompt":       SourcePrompt,
				"aspect_ratio": "aspect_ratio",
				"resolution":   "resolution",
			},
		},
		{
			ID:          "nano-banana-pro",
			Title:       "🍌 Nano Banana Pro (редактирование фото)",
			Family:      FamilyImage,
			Provider:    ProviderKie,
			Endpoint:    "nano-banana-pro",
			Media:       MediaImage,
			MediaPrompt: "📸 Пришлите фото для редактирования.",
			Choices: []Choice{
				aspectChoice("1:1", "16:9", "9:16"),
				{
					Key:    "resolution",
					Prompt: "🖥 Выберите разрешение:",
					Options: []Option{
						opt("1K", "1K", "1K"),
						opt("2K", "2K", "2K"),
						opt("4K", "4K", "4K"),
					},
				},
			},
			PromptText:   "✍️ Что изменить на фото? (минимум 5 символов)",
			MinPromptLen: 5,
			Output:       OutputImage,
			Prices: PriceTable{
				Base:  decimal.NewNullDecimal(decimal.NewFromInt(14)),
				Rules: []PriceRule{rule(24, "resolution", "4K")},
			},
			Input: map[string]string{
				"prompt":       SourcePrompt,
				"image_input":  SourceMediaList,
				"aspect_ratio": "aspect_ratio",
				"resolution":   "resolution",
			},
			Static: map[string]any{"output_format": "png"},
		},
	}
}

// Default builds the validated builtin catalog.
func Default() (*Catalog, error) {
	return New(Builtin()...)
}
