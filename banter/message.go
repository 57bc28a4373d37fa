package banter

import (
	"github.com/bwmarrin/discordgo"
)

// Mention is a user mentioned in a message, with the name to substitute
// for the raw <@id> token when building prompts.
type Mention struct {
	ID          string
	DisplayName string
}

// ReplyReference captures the message a snapshot replies to, if any.
type ReplyReference struct {
	MessageID string
	AuthorID  string
	AuthorBot bool
	Content   string
}

// Message is an immutable snapshot of an incoming Discord message. It is
// built once from the gateway event; everything downstream (admissibility,
// scheduling, prompt building) reads the snapshot and never touches live
// discordgo state.
type Message struct {
	ID                string
	ChannelID         string
	GuildID           string
	AuthorID          string
	AuthorBot         bool
	AuthorDisplayName string
	Content           string
	Mentions          []Mention
	Reply             *ReplyReference
	DM                bool
}

// NewMessageSnapshot builds a Message from a gateway MessageCreate event.
func NewMessageSnapshot(m *discordgo.MessageCreate) Message {
	msg := Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		DM:        m.GuildID == "",
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorBot = m.Author.Bot
		msg.AuthorDisplayName = displayName(m.Author, m.Member)
	}
	if len(m.Mentions) > 0 {
		msg.Mentions = make([]Mention, 0, len(m.Mentions))
		for _, u := range m.Mentions {
			if u == nil {
				continue
			}
			msg.Mentions = append(
				msg.Mentions,
				Mention{ID: u.ID, DisplayName: displayName(u, nil)},
			)
		}
	}
	if ref := m.ReferencedMessage; ref != nil {
		reply := &ReplyReference{
			MessageID: ref.ID,
			Content:   ref.Content,
		}
		if ref.Author != nil {
			reply.AuthorID = ref.Author.ID
			reply.AuthorBot = ref.Author.Bot
		}
		msg.Reply = reply
	}
	return msg
}

// MentionsUser reports whether the snapshot mentions the given user ID.
func (m Message) MentionsUser(userID string) bool {
	for _, mention := range m.Mentions {
		if mention.ID == userID {
			return true
		}
	}
	return false
}

// RepliesTo reports whether the snapshot is a reply to a message authored
// by the given user ID.
func (m Message) RepliesTo(userID string) bool {
	return m.Reply != nil && m.Reply.AuthorID == userID
}

func displayName(u *discordgo.User, member *discordgo.Member) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}
