package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	ok := Envelope{V: Version, Type: TypeChatJoin, TS: time.Now().UTC(), Payload: json.RawMessage(`{}`)}

	cases := []struct {
		name    string
		mutate  func(e *Envelope)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Envelope) {}},
		{name: "missing version", mutate: func(e *Envelope) { e.V = " " }, wantErr: true},
		{name: "wrong version", mutate: func(e *Envelope) { e.V = "v2" }, wantErr: true},
		{name: "missing type", mutate: func(e *Envelope) { e.Type = "" }, wantErr: true},
		{name: "unknown type", mutate: func(e *Envelope) { e.Type = "conversation_join" }, wantErr: true},
		{name: "terminate", mutate: func(e *Envelope) { e.Type = TypeChatTerminate }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			e := ok
			tc.mutate(&e)
			err := e.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate()=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}
