package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-alerts/internal/config"
	"github.com/sells-group/lead-alerts/internal/model"
	"github.com/sells-group/lead-alerts/internal/resilience"
)

func testNotification() Notification {
	return Notification{
		AlertID:   "alert-1",
		EntityID:  "lead-123",
		Type:      model.AlertConversionOpportunity,
		Severity:  model.SeverityHigh,
		Message:   "urgency 88 exceeds threshold 70",
		Details:   map[string]any{"urgencyScore": 88.0},
		Kind:      "created",
		CreatedAt: time.Now().UTC(),
	}
}

func TestBuildChannels(t *testing.T) {
	channels, err := BuildChannels([]config.ChannelConfig{
		{ID: "push-mobile", Type: "push", Enabled: true, WebhookURL: "https://push.example.com/send"},
		{ID: "email-primary", Type: "email", Enabled: true, SMTPAddr: "localhost:1025", Email: "agent@example.com"},
		{ID: "sms-oncall", Type: "sms", Enabled: true, SMSURL: "https://sms.example.com/v1/messages", Phone: "+15550100"},
		{ID: "push-disabled", Type: "push", Enabled: false, WebhookURL: "https://push.example.com/send"},
	})
	require.NoError(t, err)
	require.Len(t, channels, 3)
	assert.Equal(t, "push", channels[0].Type())
	assert.Equal(t, "email", channels[1].Type())
	assert.Equal(t, "sms", channels[2].Type())
}

func TestBuildChannels_UnknownType(t *testing.T) {
	_, err := BuildChannels([]config.ChannelConfig{
		{ID: "pager", Type: "carrier-pigeon", Enabled: true},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown channel type")
}

func TestBuildChannels_MissingEndpoint(t *testing.T) {
	_, err := BuildChannels([]config.ChannelConfig{
		{ID: "push-mobile", Type: "push", Enabled: true},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing webhook_url")
}

func TestPushChannel_Send_Success(t *testing.T) {
	var got pushPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch, err := NewPushChannel(config.ChannelConfig{
		ID: "push-mobile", Type: "push", Enabled: true,
		WebhookURL: srv.URL, DeviceToken: "device-abc",
	})
	require.NoError(t, err)

	require.NoError(t, ch.Send(context.Background(), testNotification()))
	assert.Equal(t, "device-abc", got.DeviceToken)
	assert.Equal(t, "alert-1", got.Alert.AlertID)
	assert.Contains(t, got.Title, "conversion-opportunity")
}

func TestPushChannel_Send_TransientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ch, err := NewPushChannel(config.ChannelConfig{ID: "push-mobile", WebhookURL: srv.URL})
	require.NoError(t, err)

	err = ch.Send(context.Background(), testNotification())
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestPushChannel_Send_PermanentStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	ch, err := NewPushChannel(config.ChannelConfig{ID: "push-mobile", WebhookURL: srv.URL})
	require.NoError(t, err)

	err = ch.Send(context.Background(), testNotification())
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestSMSChannel_Send_TruncatesBody(t *testing.T) {
	var got smsPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch, err := NewSMSChannel(config.ChannelConfig{
		ID: "sms-oncall", SMSURL: srv.URL, Phone: "+15550100",
	})
	require.NoError(t, err)

	n := testNotification()
	n.Message = strings.Repeat("score dropping. ", 40)
	require.NoError(t, ch.Send(context.Background(), n))
	assert.Equal(t, "+15550100", got.To)
	assert.LessOrEqual(t, len([]rune(got.Body)), smsMaxRunes)
}

func TestEmailChannel_Send_BuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	ch, err := NewEmailChannel(config.ChannelConfig{
		ID: "email-primary", SMTPAddr: "localhost:1025",
		From: "alerts@sells.group", Email: "agent@example.com, manager@example.com",
	})
	require.NoError(t, err)
	ch.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	require.NoError(t, ch.Send(context.Background(), testNotification()))
	assert.Equal(t, "localhost:1025", gotAddr)
	assert.Equal(t, "alerts@sells.group", gotFrom)
	assert.Equal(t, []string{"agent@example.com", "manager@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: [HIGH]")
	assert.Contains(t, string(gotMsg), "urgency 88 exceeds threshold 70")
	assert.Contains(t, string(gotMsg), "Entity: lead-123")
}

func TestEmailChannel_Send_TransientOnRelayError(t *testing.T) {
	ch, err := NewEmailChannel(config.ChannelConfig{
		ID: "email-primary", SMTPAddr: "localhost:1025", Email: "agent@example.com",
	})
	require.NoError(t, err)
	ch.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return assert.AnError
	}

	err = ch.Send(context.Background(), testNotification())
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestMinSeverityFilter(t *testing.T) {
	ch, err := NewPushChannel(config.ChannelConfig{
		ID: "push-critical", WebhookURL: "https://push.example.com", MinSeverity: "high",
	})
	require.NoError(t, err)

	assert.False(t, accepts(ch, model.SeverityLow))
	assert.False(t, accepts(ch, model.SeverityMedium))
	assert.True(t, accepts(ch, model.SeverityHigh))
	assert.True(t, accepts(ch, model.SeverityCritical))
}
