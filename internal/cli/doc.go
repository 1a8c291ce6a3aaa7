// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the huanhuan command line.
//
// Commands:
//
//	huanhuan                    Start the interactive chat (same as "chat")
//	huanhuan chat               Interactive chat with slash commands
//	huanhuan ask PROMPT         Send one prompt and print the reply
//	huanhuan serve              Serve the web chat page
//	huanhuan models             List models available on the Ollama server
//	huanhuan status             Show connection and configuration status
//	huanhuan history list       List saved transcripts
//	huanhuan history show FILE  Print a saved transcript
//	huanhuan config show        Print the effective configuration
//	huanhuan config get KEY     Print one configuration value
//	huanhuan config set KEY V   Change one value in the config file
//	huanhuan config init        Write a default config file
//
// Global flags:
//
//	--config PATH       Config file (TOML, JSON or YAML)
//	--ollama-url URL    Ollama API base URL
//	-m, --model NAME    Model to chat with
//	--history-dir DIR   Directory for saved transcripts
//	-v, --verbose       Debug logging
package cli
