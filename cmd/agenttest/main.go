package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/joho/godotenv"

	"github.com/carebridgehq/carebridge-platform/cmd/mainconfig"
	"github.com/carebridgehq/carebridge-platform/internal/agent"
	"github.com/carebridgehq/carebridge-platform/internal/config"
)

// Manual smoke test for the LLM providers behind the admin agent. Run it
// with a .env carrying GEMINI_API_KEY and/or BEDROCK_MODEL_ID to check
// connectivity and latency before pointing the API at a provider.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	messages := []agent.ChatMessage{
		{Role: agent.ChatRoleUser, Content: "Hi, I need to reschedule my appointment next week. What openings do you have?"},
		{Role: agent.ChatRoleAssistant, Content: "Happy to help with that! We have openings Tuesday morning and Thursday afternoon. Which works better for you?"},
		{Role: agent.ChatRoleUser, Content: "Thursday afternoon works. Will my insurance be billed the same way?"},
	}

	req := agent.LLMRequest{
		System: []string{
			"You are a friendly clinic front-desk assistant. Keep responses brief and helpful. Never give medical advice.",
		},
		Messages:    messages,
		MaxTokens:   200,
		Temperature: 0.7,
	}

	divider := strings.Repeat("=", 60)
	fmt.Println(divider)
	fmt.Println("LLM Provider Test")
	fmt.Println(divider)

	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey != "" {
		fmt.Println("\n[1] Testing Gemini directly...")
		model := os.Getenv("GEMINI_MODEL_ID")
		if model == "" {
			model = "gemini-2.5-flash"
		}
		client, err := agent.NewGeminiLLMClient(ctx, geminiKey, model)
		if err != nil {
			fmt.Printf("    ❌ Failed to create Gemini client: %v\n", err)
		} else {
			runCompletion(ctx, "Gemini", client, req)
		}
	} else {
		fmt.Println("\n[1] Skipping Gemini test (GEMINI_API_KEY not set)")
	}

	modelID := os.Getenv("BEDROCK_MODEL_ID")
	if modelID != "" {
		fmt.Println("\n[2] Testing Bedrock...")
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, config.Load())
		if err != nil {
			fmt.Printf("    ❌ Failed to load AWS config: %v\n", err)
		} else {
			bedrockReq := req
			bedrockReq.Model = modelID
			client := agent.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg))
			runCompletion(ctx, "Bedrock", client, bedrockReq)
		}
	} else {
		fmt.Println("\n[2] Skipping Bedrock test (BEDROCK_MODEL_ID not set)")
	}

	fmt.Println("\n" + divider)
	fmt.Println("Summary")
	fmt.Println(divider)
	fmt.Println("✅ If both providers responded, the API's fallback chain has a")
	fmt.Println("   healthy primary and a healthy standby.")
	fmt.Println("✅ To watch the chain itself, stop one provider and look for")
	fmt.Println("   'primary LLM failed, attempting fallback' in the API logs.")
}

func runCompletion(ctx context.Context, name string, client agent.LLMClient, req agent.LLMRequest) {
	start := time.Now()
	resp, err := client.Complete(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		fmt.Printf("    ❌ %s error: %v\n", name, err)
		return
	}
	fmt.Printf("    ✅ %s response (%v):\n", name, elapsed.Round(time.Millisecond))
	fmt.Printf("    %s\n", resp.Text)
	fmt.Printf("    Tokens: in=%d, out=%d\n", resp.Usage.InputTokens, resp.Usage.OutputTokens)
}
