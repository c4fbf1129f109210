// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream parses the line-oriented body of a chat turn response.
//
// The backend answers a turn request with a chunked text body made of
// "event:" and "data:" lines. Network reads do not line up with protocol
// lines, so the Decoder buffers any incomplete trailing line until the rest
// of it arrives.
//
// # Key Types
//
//   - Event: closed variant of Token, Done and Error
//   - Decoder: push-side parser fed with raw fragments in network order
//   - Reader: pull-side parser over an io.Reader, one Event per Next call
//
// # Usage
//
//	r := stream.NewReader(resp.Body)
//	for ev, err := range r.All() {
//	    if err != nil {
//	        return err
//	    }
//	    switch ev := ev.(type) {
//	    case stream.Token:
//	        fmt.Print(ev.Text)
//	    case stream.Done:
//	        chatID = ev.ChatID
//	    case stream.Error:
//	        return fmt.Errorf("turn failed: %s", ev.Message)
//	    }
//	}
package stream
