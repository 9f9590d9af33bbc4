package model

import (
	"context"
	"sync"

	"ChatRelay/tools/errs"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Conversation 会话及其参与者（按存储顺序）
type Conversation struct {
	ID                 string
	ParticipantUserIDs []string
}

// ConversationLookup 按会话ID取会话。
// 不存在返回 errs.ErrLookupNotFound，存储不可用返回 errs.ErrLookupTransport。
type ConversationLookup interface {
	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)
}

// chatDoc chats 集合里的文档，只投影路由需要的字段
type chatDoc struct {
	ID    primitive.ObjectID   `bson:"_id"`
	Users []primitive.ObjectID `bson:"users"`
}

func (d *chatDoc) toConversation() *Conversation {
	users := make([]string, 0, len(d.Users))
	for _, u := range d.Users {
		users = append(users, u.Hex())
	}
	return &Conversation{ID: d.ID.Hex(), ParticipantUserIDs: users}
}

// MongoChatStore 从 chats 集合读取会话，不做缓存
type MongoChatStore struct {
	coll *mongo.Collection
}

func NewMongoChatStore(db *mongo.Database, collection string) *MongoChatStore {
	if collection == "" {
		collection = "chats"
	}
	return &MongoChatStore{coll: db.Collection(collection)}
}

func (s *MongoChatStore) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	oid, err := primitive.ObjectIDFromHex(conversationID)
	if err != nil {
		// 非法ID不可能对应任何会话
		return nil, errs.ErrLookupNotFound.WrapMsg("invalid object id", "chat", conversationID)
	}

	var doc chatDoc
	opts := options.FindOne().SetProjection(bson.M{"_id": 1, "users": 1})
	err = s.coll.FindOne(ctx, bson.M{"_id": oid}, opts).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, errs.ErrLookupNotFound.WrapMsg("", "chat", conversationID)
	case err != nil:
		return nil, errs.ErrLookupTransport.WrapCause(err, "chat", conversationID)
	}
	return doc.toConversation(), nil
}

// MemoryChatStore 进程内会话表，测试和无 Mongo 部署时使用
type MemoryChatStore struct {
	mu    sync.RWMutex
	chats map[string][]string
}

func NewMemoryChatStore() *MemoryChatStore {
	return &MemoryChatStore{chats: make(map[string][]string)}
}

func (s *MemoryChatStore) Put(conversationID string, participants ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[conversationID] = append([]string(nil), participants...)
}

func (s *MemoryChatStore) Delete(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, conversationID)
}

func (s *MemoryChatStore) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.ErrLookupTransport.WrapCause(err, "chat", conversationID)
	}
	s.mu.RLock()
	users, ok := s.chats[conversationID]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.ErrLookupNotFound.WrapMsg("", "chat", conversationID)
	}
	return &Conversation{ID: conversationID, ParticipantUserIDs: append([]string(nil), users...)}, nil
}
