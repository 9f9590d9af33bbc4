package natsx

import (
	"context"

	"github.com/pkg/errors"
)

const (
	HeaderNode    = "Relay-Node"
	HeaderChannel = "Relay-Channel"
)

type publisher interface {
	Publish(subject string, data []byte, hdr map[string]string) error
}

// Bridge 网关节点之间转发频道广播。
// 每个节点把本地频道广播发到同一个 subject，收到后过滤掉自己发出的。
type Bridge struct {
	pub     publisher
	client  *NatsxClient
	subject string
	node    string
}

func NewBridge(client *NatsxClient, subject, node string) *Bridge {
	return &Bridge{pub: client, client: client, subject: subject, node: node}
}

// Publish 帧内容原样放在 data，频道与来源节点放在 header
func (b *Bridge) Publish(channel string, data []byte) error {
	return b.pub.Publish(b.subject, data, map[string]string{
		HeaderNode:    b.node,
		HeaderChannel: channel,
	})
}

// Subscribe deliver 收到其他节点的频道广播
func (b *Bridge) Subscribe(deliver func(channel string, data []byte)) error {
	if b.client == nil {
		return errors.New("bridge has no nats client")
	}
	return b.client.Subscribe(b.subject, b.handler(deliver))
}

func (b *Bridge) handler(deliver func(channel string, data []byte)) NatsxHandler {
	return func(_ context.Context, msg NatsxMessage) error {
		if msg.Header[HeaderNode] == b.node {
			return nil
		}
		channel := msg.Header[HeaderChannel]
		if channel == "" {
			return errors.Errorf("message on %s has no %s header", msg.Subject, HeaderChannel)
		}
		deliver(channel, msg.Data)
		return nil
	}
}
