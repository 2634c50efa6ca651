package config

// 旧版命令行脚本通过以下变量配置两个 Azure OpenAI 部署：
//
//	AZURE_OPENAI_API_KEY_4o / AZURE_OPENAI_ENDPOINT_4o / AZURE_OPENAI_DEPLOYMENT_4o
//	AZURE_OPENAI_API_KEY_o1 / AZURE_OPENAI_ENDPOINT_o1 / AZURE_OPENAI_DEPLOYMENT_o1
//
// 这些变量只填补空缺字段，TUTORFLOW_* 变量仍然优先。

const (
	legacyPrimarySuffix   = "4o"
	legacySecondarySuffix = "o1"
)

func applyLegacyAzureEnv(cfg *Config, lookup func(string) (string, bool)) {
	applyLegacyModel(&cfg.LLM.Primary, legacyPrimarySuffix, lookup)
	applyLegacyModel(&cfg.LLM.Secondary, legacySecondarySuffix, lookup)
}

func applyLegacyModel(m *ModelConfig, suffix string, lookup func(string) (string, bool)) {
	get := func(name string) string {
		v, _ := lookup("AZURE_OPENAI_" + name + "_" + suffix)
		return v
	}
	key, endpoint, deployment := get("API_KEY"), get("ENDPOINT"), get("DEPLOYMENT")
	if key == "" && endpoint == "" && deployment == "" {
		return
	}
	// 已显式配置的端点不被旧变量改写类型
	if !m.Configured() {
		m.Provider = "azure"
	}
	if m.APIKey == "" {
		m.APIKey = key
	}
	if m.BaseURL == "" {
		m.BaseURL = endpoint
	}
	if m.Deployment == "" {
		m.Deployment = deployment
	}
}
