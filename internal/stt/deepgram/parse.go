package deepgram

import (
	"encoding/json"
	"fmt"

	"github.com/N23083/uritomo-transcriber/internal/stt"
)

// resultMessage is the subset of the Deepgram live result payload we read.
type resultMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float32 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseMessage maps one websocket text message to a speech event. ok is false
// for non-result messages (Metadata, SpeechStarted, ...) and for results with
// an empty transcript, which Deepgram emits during silence.
func parseMessage(data []byte) (stt.SpeechEvent, bool, error) {
	var msg resultMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return stt.SpeechEvent{}, false, fmt.Errorf("unmarshal result: %w", err)
	}

	if msg.Type != "Results" {
		return stt.SpeechEvent{}, false, nil
	}
	if len(msg.Channel.Alternatives) == 0 || msg.Channel.Alternatives[0].Transcript == "" {
		return stt.SpeechEvent{}, false, nil
	}

	ev := stt.SpeechEvent{Type: stt.SpeechEventInterim}
	if msg.IsFinal {
		ev.Type = stt.SpeechEventFinal
	}
	for _, alt := range msg.Channel.Alternatives {
		ev.Alternatives = append(ev.Alternatives, stt.Alternative{
			Text:       alt.Transcript,
			Confidence: alt.Confidence,
		})
	}
	return ev, true, nil
}
