package safety

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/steward/internal/agentapi"
)

type stubClient struct {
	verdict Verdict
	err     error
	got     Request
}

func (s *stubClient) Classify(ctx context.Context, req Request) (Verdict, error) {
	s.got = req
	if s.err != nil {
		return Verdict{}, s.err
	}
	return s.verdict, nil
}

type slowClient struct{}

func (slowClient) Classify(ctx context.Context, _ Request) (Verdict, error) {
	<-ctx.Done()
	return Verdict{}, ctx.Err()
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"safe":         LevelSafe,
		"APPROVED":     LevelSafe,
		"blocked":      LevelBlocked,
		"unsafe":       LevelBlocked,
		"needs_review": LevelReviewRequired,
		"":             LevelReviewRequired,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestAdapter_MapsSacredToHigh(t *testing.T) {
	client := &stubClient{verdict: Verdict{Approved: true, Level: LevelSafe}}
	a := NewAdapter(client)

	v := a.Classify(context.Background(), "text", agentapi.Context{TenantID: "t1", Sensitivity: agentapi.SensitivitySacred}, "analyze")

	assert.Equal(t, agentapi.SensitivityHigh, client.got.Sensitivity)
	assert.True(t, client.got.RequiresElderReview)
	assert.True(t, v.Cultural.Sacred)
	assert.Equal(t, agentapi.SensitivitySacred, v.Cultural.Sensitivity)
}

func TestAdapter_OtherSensitivitiesPassThrough(t *testing.T) {
	for _, s := range []agentapi.Sensitivity{agentapi.SensitivityLow, agentapi.SensitivityMedium, agentapi.SensitivityHigh} {
		client := &stubClient{verdict: Verdict{Approved: true, Level: LevelSafe}}
		NewAdapter(client).Classify(context.Background(), "x", agentapi.Context{Sensitivity: s}, "op")
		assert.Equal(t, s, client.got.Sensitivity)
		assert.False(t, client.got.RequiresElderReview)
	}
}

func TestAdapter_FailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		opts  []AdapterOption
		level Level
	}{
		{"default review", nil, LevelReviewRequired},
		{"configured blocked", []AdapterOption{WithFailClosedLevel(LevelBlocked)}, LevelBlocked},
		{"safe is ignored", []AdapterOption{WithFailClosedLevel(LevelSafe)}, LevelReviewRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdapter(&stubClient{err: errors.New("connection refused")}, tt.opts...)
			v := a.Classify(context.Background(), "x", agentapi.Context{}, "op")
			assert.False(t, v.Approved)
			assert.Equal(t, tt.level, v.Level)
			assert.True(t, v.ElderReviewRequired)
			require.Len(t, v.Concerns, 1)
			assert.Contains(t, v.Concerns[0], ConcernUnavailable)
		})
	}
}

func TestAdapter_TimeoutFailsClosed(t *testing.T) {
	a := NewAdapter(slowClient{}, WithTimeout(10*time.Millisecond))
	v := a.Classify(context.Background(), "x", agentapi.Context{}, "op")
	assert.False(t, v.Approved)
	assert.Equal(t, LevelReviewRequired, v.Level)
}

func TestHTTPClient_Classify(t *testing.T) {
	var got classifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{
			"approved": false,
			"safety_level": "needs_review",
			"detected_concerns": ["toxicity: insult"],
			"elder_review_required": true,
			"recommendations": ["soften tone"],
			"cultural_context": {"sensitivity": "high", "sacred": false, "ceremonial": true, "required_protocols": ["consult"]}
		}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "k", time.Second)
	v, err := c.Classify(context.Background(), Request{
		Content: "hello", UserID: "u1", ContextType: "agent_request", Operation: "de-escalate",
		Sensitivity: agentapi.SensitivityHigh, CulturalAffiliations: []string{"Wiradjuri"},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "high", got.CulturalMetadata.SensitivityLevel)
	assert.Equal(t, []string{"Wiradjuri"}, got.CulturalMetadata.CulturalAffiliations)

	assert.False(t, v.Approved)
	assert.Equal(t, LevelReviewRequired, v.Level)
	assert.Equal(t, []string{"toxicity: insult"}, v.Concerns)
	assert.True(t, v.ElderReviewRequired)
	assert.True(t, v.Cultural.Ceremonial)
	assert.Equal(t, agentapi.SensitivityHigh, v.Cultural.Sensitivity)
}

func TestHTTPClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, `oops`, nil},
		{"not json", http.StatusOK, `<html>`, ErrMalformedResponse},
		{"missing fields", http.StatusOK, `{"detected_concerns":[]}`, ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPClient(srv.URL, "", time.Second).Classify(context.Background(), Request{})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			v := NewAdapter(NewHTTPClient(srv.URL, "", time.Second)).Classify(context.Background(), "x", agentapi.Context{}, "op")
			assert.False(t, v.Approved)
		})
	}
}

func TestKeywordClassifier(t *testing.T) {
	k := NewKeywordClassifier()
	tests := []struct {
		name     string
		content  string
		level    Level
		approved bool
		elder    bool
		concerns int
	}{
		{"plain", "We planted trees by the river.", LevelSafe, true, false, 0},
		{"abusive", "You are an idiot and stupid", LevelReviewRequired, true, false, 2},
		{"threat", "I will hurt you", LevelBlocked, false, false, 1},
		{"sacred", "Grandfather spoke of the sacred site near the creek", LevelReviewRequired, true, true, 1},
		{"word boundary", "The stupidity of the plan", LevelSafe, true, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := k.Classify(context.Background(), Request{Content: tt.content, Sensitivity: agentapi.SensitivityLow})
			require.NoError(t, err)
			assert.Equal(t, tt.level, v.Level)
			assert.Equal(t, tt.approved, v.Approved)
			assert.Equal(t, tt.elder, v.ElderReviewRequired)
			assert.Len(t, v.Concerns, tt.concerns)
		})
	}
}

func TestKeywordClassifier_CeremonialNeedsProtocol(t *testing.T) {
	v, err := NewKeywordClassifier().Classify(context.Background(), Request{Content: "After the smoking ceremony we ate."})
	require.NoError(t, err)
	assert.True(t, v.Cultural.Ceremonial)
	assert.Contains(t, v.Cultural.RequiredProtocols, "ceremonial_protocol")
	assert.Equal(t, LevelSafe, v.Level)
}

func TestVerdict_Helpers(t *testing.T) {
	v := Verdict{Level: LevelBlocked, Concerns: []string{"toxicity: a", "sacred_content: b", "toxicity: c"}}
	assert.True(t, v.Blocked())
	assert.Len(t, v.ConcernsWithPrefix("toxicity"), 2)
	v.Approved = true
	assert.False(t, v.Blocked())
}
