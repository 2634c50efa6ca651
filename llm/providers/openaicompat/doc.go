// Package openaicompat implements llm.Provider against OpenAI-style chat
// completion endpoints, including Azure OpenAI deployments.
//
// Azure mode is enabled by setting Config.Azure: requests go to
// /openai/deployments/{deployment}/chat/completions?api-version=..., the key
// travels in the api-key header and the model field is omitted. Config.Reasoning
// adapts the payload for o1-style models.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "primary",
//	    APIKey:       cfg.APIKey,
//	    BaseURL:      "https://my-resource.openai.azure.com",
//	    Azure:        &openaicompat.AzureConfig{Deployment: "gpt-4o"},
//	}, logger)
package openaicompat
