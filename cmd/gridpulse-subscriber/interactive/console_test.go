package interactive

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/gridpulse/gridpulse-go/pkg/subscriber"
	"github.com/gridpulse/gridpulse-go/pkg/wire"
)

type stubClient struct {
	mock.Mock
}

func (s *stubClient) Subscribe(ctx context.Context, opts subscriber.SubscribeOptions) (*subscriber.Response, error) {
	args := s.Called(opts)
	resp, _ := args.Get(0).(*subscriber.Response)
	return resp, args.Error(1)
}

func (s *stubClient) Unsubscribe(ctx context.Context) (*subscriber.Response, error) {
	args := s.Called()
	resp, _ := args.Get(0).(*subscriber.Response)
	return resp, args.Error(1)
}

func (s *stubClient) RotateCipherKeys(ctx context.Context) (*subscriber.Response, error) {
	args := s.Called()
	resp, _ := args.Get(0).(*subscriber.Response)
	return resp, args.Error(1)
}

func (s *stubClient) DefineOperationalModes(modes wire.OperationalModes) error {
	return s.Called(modes).Error(0)
}

func (s *stubClient) Status() string {
	return s.Called().String(0)
}

func execute(client Client, line string) (string, bool) {
	var buf bytes.Buffer
	ok := Execute(context.Background(), &buf, line, client)
	return buf.String(), ok
}

func TestExecuteSubscribe(t *testing.T) {
	client := &stubClient{}
	client.On("Subscribe", subscriber.SubscribeOptions{Signals: []string{"*"}}).
		Return(&subscriber.Response{Message: "Client subscribed with 3 signals"}, nil).Once()
	client.On("Subscribe", subscriber.SubscribeOptions{Signals: []string{"PPA:1", "PPA:2"}, Encrypt: true, UDPAddress: ":0"}).
		Return(nil, errors.New("rejected")).Once()

	out, ok := execute(client, "sub")
	assert.True(t, ok)
	assert.Contains(t, out, "Client subscribed with 3 signals")

	out, _ = execute(client, "subscribe -e -udp :0 PPA:1 PPA:2")
	assert.Contains(t, out, "Error: rejected")

	out, _ = execute(client, "subscribe -udp")
	assert.Contains(t, out, "Usage: subscribe")

	client.AssertExpectations(t)
}

func TestExecuteCommands(t *testing.T) {
	client := &stubClient{}
	client.On("Unsubscribe").Return(&subscriber.Response{Message: "Client unsubscribed"}, nil)
	client.On("RotateCipherKeys").Return(&subscriber.Response{Message: "New cipher keys established"}, nil)
	client.On("DefineOperationalModes", wire.DefaultOperationalModes.WithEncoding(wire.EncodingUnicode)).Return(nil)
	client.On("Status").Return("127.0.0.1:6165: CONNECTED, 2 signals")

	out, _ := execute(client, "unsub")
	assert.Contains(t, out, "Client unsubscribed")

	out, _ = execute(client, "rotate")
	assert.Contains(t, out, "New cipher keys established")

	out, _ = execute(client, "encoding UTF16")
	assert.Contains(t, out, "Encoding set to Unicode")

	out, _ = execute(client, "encoding ebcdic")
	assert.Contains(t, out, "Unknown encoding: ebcdic")

	out, _ = execute(client, "encoding")
	assert.Contains(t, out, "Usage: encoding")

	out, _ = execute(client, "status")
	assert.Contains(t, out, "2 signals")

	out, _ = execute(client, "help")
	assert.Contains(t, out, "Subscriber Commands")

	out, ok := execute(client, "bogus")
	assert.True(t, ok)
	assert.Contains(t, out, "Unknown command: bogus")

	_, ok = execute(client, "exit")
	assert.False(t, ok)

	client.AssertExpectations(t)
}
