// Package openaicompat implements the unified chat contract against any
// vendor that speaks the OpenAI Chat Completions wire format.
//
// The unified request is already OpenAI-shaped, so translation is mostly a
// field copy plus Extra pass-through. Normalization handles the differences
// vendors drift into: string timestamps, usage-only trailing chunks, error
// objects inside 200 bodies and inside the event stream.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "deepseek",
//	    OpenAICompatConfig: providers.OpenAICompatConfig{
//	        BaseProviderConfig: providers.BaseProviderConfig{
//	            APIKey:  os.Getenv("DEEPSEEK_API_KEY"),
//	            BaseURL: "https://api.deepseek.com",
//	            Model:   "deepseek-chat",
//	        },
//	    },
//	}, logger)
package openaicompat
