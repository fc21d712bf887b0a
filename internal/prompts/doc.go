// Package prompts holds the four templates the dialogue loop sends to the
// model: topic classification, music action resolution, error apology and
// reply rephrasing.
//
// The built-in templates are Go constants in conversation.go. Deployments
// can replace any of them from a TOML file with a [conversation] table
// (keys topic_get_prompt, music_get_action_prompt, user_error_prompt,
// user_reply_prompt). Templates use two placeholders, {conversation_history}
// and {message}, substituted literally by Render.
package prompts
