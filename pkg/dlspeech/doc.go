// Package dlspeech provides a Go client for Direct Line Speech style dialog
// gateways: WebSocket services that couple speech recognition and synthesis
// with a bot-framework channel.
//
// A Client is configured with a subscription key and service region and opens
// Sessions:
//
//	client := dlspeech.NewClient(key, "westus2",
//		dlspeech.WithLanguage("en-US"),
//		dlspeech.WithBotID(botID),
//	)
//	session, err := client.Connect(ctx)
//	if err != nil { ... }
//	defer session.Close()
//
// A session multiplexes one WebSocket connection. Text frames carry CRLF
// header blocks (Path, X-RequestId, X-Timestamp, Content-Type) followed by a
// JSON body; binary frames prefix the same header block with its big-endian
// 16-bit length and append raw audio. The client streams microphone or file
// audio upstream with WriteAudio/FlushAudio and posts bot-framework
// activities with SendActivity. Everything the service emits (turn
// lifecycle, recognition hypotheses and phrases, activities, synthesized
// audio chunks, cancellation) is surfaced through Events:
//
//	for ev, err := range session.Events() {
//		if err != nil { ... }
//		switch ev.Type {
//		case dlspeech.EventActivityReceived:
//			...
//		}
//	}
package dlspeech
