// Package telegram is a minimal client for the Telegram Bot API: the
// inbound update types the webhook decodes and the outbound operations
// the bot needs. No SDK; the Bot API is plain HTTPS + JSON.
package telegram

// Update is one inbound event from the Bot API. Exactly one of the
// pointer fields is set for the updates this bot subscribes to.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// Message is an inbound or sent chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text,omitempty"`
}

// User identifies the Telegram account behind a message or callback.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

// CallbackQuery is delivered when a user taps an inline button. Data
// carries the opaque action token the bot attached to the button.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// Button is one inline keyboard button: a label the user sees and the
// callback data the bot gets back when it is tapped.
type Button struct {
	Label string
	Data  string
}

// inlineKeyboardButton is the wire form of Button.
type inlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboardMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
}

func keyboardMarkup(rows [][]Button) *inlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	markup := &inlineKeyboardMarkup{InlineKeyboard: make([][]inlineKeyboardButton, 0, len(rows))}
	for _, row := range rows {
		wire := make([]inlineKeyboardButton, 0, len(row))
		for _, b := range row {
			wire = append(wire, inlineKeyboardButton{Text: b.Label, CallbackData: b.Data})
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, wire)
	}
	return markup
}
