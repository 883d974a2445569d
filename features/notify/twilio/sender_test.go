package twilio

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	twclient "github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/royalbadminton/streakbot/runtime/notify"
)

type fakeAPI struct {
	params []*twilioapi.CreateMessageParams
	sid    string
	err    error
}

func (f *fakeAPI) CreateMessage(p *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error) {
	f.params = append(f.params, p)
	if f.err != nil {
		return nil, f.err
	}
	return &twilioapi.ApiV2010Message{Sid: &f.sid}, nil
}

func TestSendMapsMessage(t *testing.T) {
	api := &fakeAPI{sid: "SM123"}
	s, err := newSender(api, "whatsapp:+14155238886", nil)
	require.NoError(t, err)

	rc, err := s.Send(context.Background(), notify.Message{To: "whatsapp:+15550000001", Body: "hi"})
	require.NoError(t, err)
	require.Equal(t, notify.Receipt{ID: "SM123"}, rc)

	require.Len(t, api.params, 1)
	p := api.params[0]
	require.Equal(t, "whatsapp:+15550000001", *p.To)
	require.Equal(t, "whatsapp:+14155238886", *p.From)
	require.Equal(t, "hi", *p.Body)
}

func TestSendReportsRestErrors(t *testing.T) {
	api := &fakeAPI{err: &twclient.TwilioRestError{Code: 21211, Message: "Invalid 'To' Phone Number", Status: 400}}
	s, err := newSender(api, "whatsapp:+1", nil)
	require.NoError(t, err)

	_, err = s.Send(context.Background(), notify.Message{To: "whatsapp:+0", Body: "hi"})
	require.EqualError(t, err, "twilio 21211: Invalid 'To' Phone Number")

	api.err = errors.New("dial tcp: timeout")
	_, err = s.Send(context.Background(), notify.Message{To: "whatsapp:+0", Body: "hi"})
	require.EqualError(t, err, "twilio: dial tcp: timeout")
}

func TestSendValidatesBeforeCalling(t *testing.T) {
	api := &fakeAPI{}
	s, err := newSender(api, "whatsapp:+1", nil)
	require.NoError(t, err)

	_, err = s.Send(context.Background(), notify.Message{To: "", Body: "hi"})
	require.ErrorIs(t, err, notify.ErrInvalidMessage)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Send(ctx, notify.Message{To: "whatsapp:+2", Body: "hi"})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, api.params)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	require.EqualError(t, err, "twilio credentials are required")
	_, err = New(Options{AccountSID: "AC1", AuthToken: "tok"})
	require.EqualError(t, err, "sender address is required")
	s, err := New(Options{AccountSID: "AC1", AuthToken: "tok", From: "whatsapp:+1"})
	require.NoError(t, err)
	require.NotNil(t, s)
}
