package types

import (
	"time"
)

type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeImage MessageType = "IMAGE"
	MessageTypeVideo MessageType = "VIDEO"
	MessageTypeFile  MessageType = "FILE"
)

type ReceiptStatus string

const (
	ReceiptStatusSent      ReceiptStatus = "SENT"
	ReceiptStatusDelivered ReceiptStatus = "DELIVERED"
	ReceiptStatusRead      ReceiptStatus = "READ"
)

type Message struct {
	Id              string         `json:"id"`
	ChatRoomId      string         `json:"chatRoomId"`
	SenderId        string         `json:"senderId"`
	SenderName      string         `json:"senderName"`
	SenderAvatar    string         `json:"senderAvatar,omitempty"`
	MessageType     MessageType    `json:"messageType"`
	TextContent     string         `json:"textContent"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ParentMessageId string         `json:"parentMessageId,omitempty"`
	Edited          bool           `json:"edited"`
	SendAt          time.Time      `json:"sendAt"`
	UpdatedAt       time.Time      `json:"updatedAt,omitempty"`
}

type ChatRoom struct {
	Id           string    `json:"id"`
	Name         string    `json:"name"`
	Participants []string  `json:"participants"`
	GroupChat    bool      `json:"groupChat"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
	UnreadCount  int       `json:"unreadCount"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

type Participant struct {
	UserId   string     `json:"userId"`
	Username string     `json:"username"`
	JoinedAt time.Time  `json:"joinedAt"`
	LeftAt   *time.Time `json:"leftAt,omitempty"`
}

type MessageReceipt struct {
	Id          string        `json:"id"`
	MessageId   string        `json:"messageId"`
	UserId      string        `json:"userId"`
	Username    string        `json:"username"`
	Status      ReceiptStatus `json:"status"`
	DeliveredAt *time.Time    `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time    `json:"readAt,omitempty"`
}

// MessagePage is one page of a conversation's history in ascending send
// time, plus an opaque cursor for the next (older) page.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"nextCursor"`
	HasNext    bool      `json:"hasNext"`
}

// SendMessageRequest is the payload for sending a message, over REST or
// the send-message publish destination.
type SendMessageRequest struct {
	ChatRoomId      string      `json:"chatRoomId"`
	MessageType     MessageType `json:"messageType"`
	TextContent     string      `json:"textContent"`
	ParentMessageId string      `json:"parentMessageId,omitempty"`
}

type TypingRequest struct {
	ChatRoomId string `json:"chatRoomId"`
	IsTyping   bool   `json:"isTyping"`
}

type ReadReceiptRequest struct {
	MessageId string `json:"messageId"`
	UserId    string `json:"userId"`
}

type TypingEvent struct {
	UserId     string `json:"userId"`
	Username   string `json:"username"`
	ChatRoomId string `json:"chatRoomId"`
	IsTyping   bool   `json:"isTyping"`
}

type ReadReceiptEvent struct {
	MessageId string    `json:"messageId"`
	UserId    string    `json:"userId"`
	Username  string    `json:"username"`
	ReadAt    time.Time `json:"readAt"`
}

type UserStatusEvent struct {
	UserId   string    `json:"userId"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
