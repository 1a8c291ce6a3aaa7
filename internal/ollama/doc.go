// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for the local Ollama inference server.
//
// The client covers the three routes the chat front ends need: the model
// listing used as a liveness probe (/api/tags) and non-streaming and
// streaming text generation (/api/generate).
//
// # Key Types
//
//   - Client: HTTP client for the Ollama API
//   - ClientError: typed failure (connection, status, decode)
//   - Stream: single-pass reader over a newline-delimited JSON response
//
// # Usage
//
//	client := ollama.NewClient()
//	if !client.CheckConnection(ctx) {
//	    // server down
//	}
//	text, err := client.Generate(ctx, "你好", model.DefaultParams())
//
// For streaming responses:
//
//	stream, err := client.GenerateStream(ctx, "你好", params)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for {
//	    fragment, err := stream.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    fmt.Print(fragment)
//	}
//
// A Stream cannot be restarted; issue a new request instead.
package ollama
