package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	dbfs "github.com/lucaresi/stima/db"
	"github.com/lucaresi/stima/pkg/llm"
)

const requirements = `# Requirements

Build a small CRM. Users sign in, manage contacts, companies and deals,
and export a monthly activity report as CSV.`

func main() {
	ctx := context.Background()

	cfg := llm.DefaultConfig()
	if os.Getenv("STIMA_LLM_PROVIDER") == llm.ProviderOllama {
		cfg = llm.DefaultOllamaConfig()
	}
	if v := os.Getenv("STIMA_LLM_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("STIMA_LLM_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("STIMA_LLM_MODEL"); v != "" {
		cfg.Model = v
	}

	provider, err := llm.NewProvider(cfg, nil)
	if err != nil {
		log.Fatal(err)
	}

	schema, err := dbfs.SeedFiles.ReadFile("seed/estimate_schema_v1.json")
	if err != nil {
		log.Fatal(err)
	}

	if err := estimate(ctx, provider, schema); err != nil {
		log.Fatal(err)
	}
}

// estimate sends the sample requirements through the provider and prints the
// structured reply
func estimate(ctx context.Context, provider llm.Provider, schema []byte) error {
	resp, err := provider.Complete(ctx, llm.Request{
		System:    "You are a software estimation assistant. Produce a complete estimate for the given requirements using the tool schema.",
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: requirements}},
		Tool:      &llm.Tool{Name: "produce_estimate", Description: "Emit the structured project estimate", InputSchema: schema},
		ForceTool: true,
		MaxTokens: 8192,
	})
	if err != nil {
		return err
	}

	if resp.Structured == nil {
		fmt.Println(resp.Text)
		return nil
	}

	var pretty json.RawMessage = resp.Structured
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	return nil
}
