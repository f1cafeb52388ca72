package service

import (
	"context"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/ecommunity/internal/entity"
	"github.com/mbeoliero/ecommunity/sdk"
)

const unknownSender = "Unknown"

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func toParticipant(u *sdk.UserInfo) *entity.Participant {
	p := &entity.Participant{Id: u.Id, Name: u.Name, Avatar: u.Avatar}
	if u.LastSeen != nil {
		p.LastSeen = unixMilli(*u.LastSeen)
	}
	return p
}

func toConversation(info *sdk.ConversationInfo) *entity.Conversation {
	conv := &entity.Conversation{
		Id:           info.Id,
		Name:         info.Name,
		IsGroup:      info.IsGroup,
		Participants: make([]*entity.Participant, 0, len(info.Participants)),
		UnreadCount:  info.UnreadCount,
		CreatedAt:    unixMilli(info.CreatedAt),
		UpdatedAt:    unixMilli(info.UpdatedAt),
	}
	for _, u := range info.Participants {
		if u != nil {
			conv.Participants = append(conv.Participants, toParticipant(u))
		}
	}
	if lm := info.LastMessage; lm != nil {
		conv.LastMessage = &entity.MessageSummary{
			Content:   lm.Content,
			CreatedAt: unixMilli(lm.CreatedAt),
			SenderId:  lm.SenderId,
		}
	}
	return conv
}

func senderName(u *sdk.UserInfo) string {
	if u == nil || u.Name == "" {
		return unknownSender
	}
	return u.Name
}

// aggregateReactions groups reaction rows by emoji in order of first appearance
func aggregateReactions(rows []*sdk.ReactionInfo) []*entity.ReactionGroup {
	if len(rows) == 0 {
		return nil
	}
	groups := make([]*entity.ReactionGroup, 0, len(rows))
	byEmoji := make(map[string]*entity.ReactionGroup, len(rows))
	for _, row := range rows {
		if row == nil || row.Reaction == "" {
			continue
		}
		g, ok := byEmoji[row.Reaction]
		if !ok {
			g = &entity.ReactionGroup{Emoji: row.Reaction}
			byEmoji[row.Reaction] = g
			groups = append(groups, g)
		}
		g.Count++
		name := row.UserId
		if row.User != nil && row.User.Name != "" {
			name = row.User.Name
		}
		g.Users = append(g.Users, name)
	}
	return groups
}

// toMessage converts a wire message. Attachment urls are signed from their storage path;
// a url that cannot be signed is left empty.
func toMessage(ctx context.Context, info *sdk.MessageInfo, resolver *AttachmentResolver) *entity.Message {
	msg := &entity.Message{
		Id:          info.Id,
		Content:     info.Content,
		SenderId:    info.SenderId,
		SenderName:  senderName(info.Sender),
		CreatedAt:   unixMilli(info.CreatedAt),
		Reactions:   aggregateReactions(info.Reactions),
		IsRead:      info.IsRead,
		IsDelivered: info.IsDelivered,
		IsEdited:    info.IsEdited,
		ReadBy:      append([]string(nil), info.ReadBy...),
	}

	for _, a := range info.Attachments {
		if a == nil {
			continue
		}
		att := &entity.Attachment{
			Id:       a.Id,
			Name:     a.FileName,
			MimeType: a.FileType,
			Size:     a.FileSize,
			URL:      a.URL,
			Path:     a.FilePath,
		}
		if att.Path != "" && resolver != nil {
			url, err := resolver.Resolve(ctx, att.Path)
			if err != nil {
				log.CtxWarn(ctx, "resolve attachment url failed: message_id=%s, path=%s, error=%v", info.Id, att.Path, err)
				att.URL = ""
			} else {
				att.URL = url
			}
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	if g := info.Gif; g != nil {
		msg.Gif = &entity.Gif{
			Id:         g.Id,
			URL:        g.URL,
			PreviewURL: g.PreviewURL,
			Title:      g.Title,
			Width:      g.Width,
			Height:     g.Height,
		}
	}

	if rt := info.ReplyTo; rt != nil {
		msg.ReplyTo = &entity.ReplyTo{
			Id:         rt.Id,
			Content:    rt.Content,
			SenderName: senderName(rt.Sender),
		}
	}

	return msg
}

func toSDKGif(g *entity.Gif) *sdk.GifInfo {
	if g == nil {
		return nil
	}
	return &sdk.GifInfo{
		Id:         g.Id,
		URL:        g.URL,
		PreviewURL: g.PreviewURL,
		Title:      g.Title,
		Width:      g.Width,
		Height:     g.Height,
	}
}

func toSDKFiles(files []*entity.LocalFile) []*sdk.File {
	out := make([]*sdk.File, 0, len(files))
	for _, f := range files {
		out = append(out, &sdk.File{Name: f.Name, ContentType: f.MimeType, Reader: f.Reader})
	}
	return out
}
