// Command llm-chat-proxy runs the chat proxy servers.
//
// Settings are read from the environment and an optional dotenv file
// (--env-file, default .env). Environment variables win.
//
//	API_KEY               comma-separated client secrets (X-API-Key)
//	MODEL_PROVIDER        default provider: gemini or openai (default: gemini)
//	MODEL_API_KEY         upstream provider key
//	MODEL_NAME            upstream model override
//	MODEL_BASE_URL        upstream endpoint override
//	ALLOWED_ORIGINS       JSON array or comma list of CORS origins (default: *)
//	ENVIRONMENT           "development" exposes error details (default: production)
//	HOST, PORT            HTTP API listen address (default: 0.0.0.0:8000)
//	METRICS_PORT          Prometheus metrics HTTP port (default: 9090)
//	GRPC_PORT             gRPC health server port (default: 50051)
//	REQUEST_TIMEOUT       upstream timeout, seconds or duration (default: 60s)
//	MAX_RETRIES           maximum retry attempts (default: 3)
//	LOG_LEVEL             DEBUG, INFO, WARNING, ERROR (default: INFO)
//	LOG_FORMAT            text or json (default: text)
package main

import (
	"os"
)

func main() {
	if err := newApp().Execute(); err != nil {
		os.Exit(1)
	}
}
