package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/storyloom/storyloom/internal/observability"
)

func probeBody(content string) string {
	return `{"id":"1","object":"chat.completion","created":1,"model":"m",` +
		`"choices":[{"index":0,"message":{"role":"assistant","content":"` + content + `"},"finish_reason":"stop"}]}`
}

func newRouterClient(transport *scriptedTransport) *Client {
	return NewClient(Options{
		Provider:    "test",
		HTTPClient:  &http.Client{Transport: transport},
		MaxRetries:  1,
		MinInterval: 1,
		Clock:       newFakeClock(),
		Rand:        func() float64 { return 0 },
	})
}

func newTestRouter(clients map[string]*Client, profiles map[string]Profile) *Router {
	return NewRouter("zhipu", clients, profiles, observability.NopLogger())
}

func TestResolveModel(t *testing.T) {
	router := newTestRouter(
		map[string]*Client{"zhipu": nil},
		map[string]Profile{
			"zhipu": {
				DefaultModel: "glm-4.5-flash",
				StageModels:  map[string]string{StageOutline: "glm-4-long"},
			},
		},
	)

	tests := []struct {
		provider string
		stage    string
		want     string
		wantErr  bool
	}{
		{"zhipu", StageOutline, "glm-4-long", false},
		{"zhipu", StageExpansion, "glm-4.5-flash", false},
		{"zhipu", "", "glm-4.5-flash", false},
		{"missing", StageOutline, "", true},
	}
	for _, tt := range tests {
		got, err := router.ResolveModel(tt.provider, tt.stage)
		if tt.wantErr {
			var unknown *UnknownProviderError
			if !errors.As(err, &unknown) {
				t.Errorf("ResolveModel(%q, %q): expected UnknownProviderError, got %v", tt.provider, tt.stage, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ResolveModel(%q, %q): unexpected error %v", tt.provider, tt.stage, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ResolveModel(%q, %q) = %q, want %q", tt.provider, tt.stage, got, tt.want)
		}
	}
}

func TestSwitchDefault(t *testing.T) {
	router := newTestRouter(
		map[string]*Client{"zhipu": nil, "doubao": nil},
		map[string]Profile{
			"zhipu":  {DefaultModel: "glm-4.5-flash"},
			"doubao": {DefaultModel: "doubao-seed-1-6"},
		},
	)

	if err := router.SwitchDefault("doubao"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := router.Default(); got != "doubao" {
		t.Errorf("default = %q, want doubao", got)
	}

	err := router.SwitchDefault("missing")
	var unknown *UnknownProviderError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownProviderError, got %v", err)
	}
	if got := router.Default(); got != "doubao" {
		t.Errorf("failed switch changed default to %q", got)
	}
}

func TestInvoke_ResolvesStageModel(t *testing.T) {
	transport := &scriptedTransport{responses: []stubResponse{{status: 200, body: probeBody("drafted")}}}
	router := newTestRouter(
		map[string]*Client{"zhipu": newRouterClient(transport)},
		map[string]Profile{
			"zhipu": {
				DefaultModel: "glm-4.5-flash",
				StageModels:  map[string]string{StageOutline: "glm-4-long"},
			},
		},
	)

	text, err := router.Invoke(context.Background(),
		InvokeOptions{Stage: StageOutline},
		[]Message{{Role: RoleUser, Content: "outline chapter 3"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "drafted" {
		t.Errorf("text = %q, want drafted", text)
	}
	if !strings.Contains(transport.lastBody, `"model":"glm-4-long"`) {
		t.Errorf("stage model not used in request: %s", transport.lastBody)
	}
}

func TestInvoke_ExplicitModelWins(t *testing.T) {
	transport := &scriptedTransport{responses: []stubResponse{{status: 200, body: probeBody("ok")}}}
	router := newTestRouter(
		map[string]*Client{"zhipu": newRouterClient(transport)},
		map[string]Profile{"zhipu": {DefaultModel: "glm-4.5-flash"}},
	)

	_, err := router.Invoke(context.Background(),
		InvokeOptions{Model: "glm-4-plus", Stage: StageOutline},
		[]Message{{Role: RoleUser, Content: "x"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(transport.lastBody, `"model":"glm-4-plus"`) {
		t.Errorf("explicit model not used: %s", transport.lastBody)
	}
}

func TestInvoke_UnknownProvider(t *testing.T) {
	router := newTestRouter(map[string]*Client{}, map[string]Profile{})

	_, err := router.Invoke(context.Background(),
		InvokeOptions{Provider: "missing"},
		[]Message{{Role: RoleUser, Content: "x"}})
	var unknown *UnknownProviderError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownProviderError, got %v", err)
	}
}

func TestInvoke_PropagatesClientErrors(t *testing.T) {
	transport := failingTransport(500)
	router := newTestRouter(
		map[string]*Client{"zhipu": newRouterClient(transport)},
		map[string]Profile{"zhipu": {DefaultModel: "glm-4.5-flash"}},
	)

	_, err := router.Invoke(context.Background(), InvokeOptions{},
		[]Message{{Role: RoleUser, Content: "x"}})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError from client, got %v", err)
	}
}

func TestTestAll_ReportsHealthWithoutFailing(t *testing.T) {
	healthy := &scriptedTransport{responses: []stubResponse{{status: 200, body: probeBody("READY")}}}
	chatty := &scriptedTransport{responses: []stubResponse{{status: 200, body: probeBody("READY! How can I help?")}}}
	broken := failingTransport(500)

	router := newTestRouter(
		map[string]*Client{
			"zhipu":    newRouterClient(healthy),
			"doubao":   newRouterClient(chatty),
			"deepseek": newRouterClient(broken),
		},
		map[string]Profile{
			"zhipu":    {DefaultModel: "glm-4.5-flash"},
			"doubao":   {DefaultModel: "doubao-seed-1-6"},
			"deepseek": {DefaultModel: "deepseek-chat"},
		},
	)

	results := router.TestAll(context.Background())
	want := map[string]bool{"zhipu": true, "doubao": false, "deepseek": false}
	for name, wantOK := range want {
		if results[name] != wantOK {
			t.Errorf("TestAll[%s] = %v, want %v", name, results[name], wantOK)
		}
	}
}

func TestTestAll_TrimsAckWhitespace(t *testing.T) {
	transport := &scriptedTransport{responses: []stubResponse{{status: 200, body: probeBody(`\nREADY\n`)}}}
	router := newTestRouter(
		map[string]*Client{"zhipu": newRouterClient(transport)},
		map[string]Profile{"zhipu": {DefaultModel: "glm-4.5-flash"}},
	)

	results := router.TestAll(context.Background())
	if !results["zhipu"] {
		t.Error("surrounding whitespace should not fail the probe")
	}
}
