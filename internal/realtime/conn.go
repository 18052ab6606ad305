package realtime

import (
	"encoding/json"

	"golang.org/x/net/websocket"
)

const (
	CommandSubscribe   = "subscribe"
	CommandUnsubscribe = "unsubscribe"

	TypeSubscribed   = "SUBSCRIBED"
	TypeUnsubscribed = "UNSUBSCRIBED"
	TypeRejected     = "REJECTED"
)

// クライアントからのコマンド
type Command struct {
	Command string `json:"command"`
	Channel string `json:"channel"`
}

type controlMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

// 1接続分。読み込みはこのgoroutine、書き込みは別goroutine。
// 接続が閉じたら全チャネルから外す
func (h *Hub) Serve(ws *websocket.Conn, p Principal) {
	sub := h.NewSubscriber(defaultBuffer)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		sub.drain(func(msg []byte) error {
			if err := websocket.Message.Send(ws, string(msg)); err != nil {
				_ = ws.Close()
				return err
			}
			return nil
		})
	}()

	for {
		var cmd Command
		if err := websocket.JSON.Receive(ws, &cmd); err != nil {
			break
		}
		h.handleCommand(sub, p, cmd)
	}

	h.Remove(sub)
	sub.close()
	<-writerDone
}

// 書き込み失敗で抜けるときも購読者を閉じ、replyで詰まった読み込み側を起こす
func (s *Subscriber) drain(send func([]byte) error) {
	defer s.close()
	for {
		select {
		case msg := <-s.send:
			if err := send(msg); err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}

func (h *Hub) handleCommand(sub *Subscriber, p Principal, cmd Command) {
	switch cmd.Command {
	case CommandSubscribe:
		if !CanSubscribe(p, cmd.Channel) {
			sub.reply(encodeControl(TypeRejected, cmd.Channel))
			return
		}
		h.Subscribe(cmd.Channel, sub)
		sub.reply(encodeControl(TypeSubscribed, cmd.Channel))
	case CommandUnsubscribe:
		h.Unsubscribe(cmd.Channel, sub)
		sub.reply(encodeControl(TypeUnsubscribed, cmd.Channel))
	default:
		sub.reply(encodeControl(TypeRejected, cmd.Channel))
	}
}

func encodeControl(typ, channel string) []byte {
	b, _ := json.Marshal(controlMessage{Type: typ, Channel: channel})
	return b
}
