package prompts

// TopicClassify asks the model to sort the latest user message into one
// of the fixed topics. The reply must carry "reasoning:" and "topic:" lines.
const TopicClassify = `You route requests for a smart home voice assistant.

Read the conversation below and decide which topic the LAST user message
belongs to. Allowed topics:
- lights: turning lights on or off, brightness, colours
- music: playing, pausing, skipping, loading playlists, asking what is playing
- sensor: temperatures, humidity, door or motion sensors, any measurement

If the message fits none of these, answer sensor.

Conversation:
{conversation_history}

Answer in exactly this format and nothing else:
reasoning: <one sentence>
topic: <lights|music|sensor>`

// MusicAction asks the model to turn the conversation into one music
// command. The reply must carry "reasoning:" and "action:" lines.
const MusicAction = `You control a media player for a smart home voice assistant.

Read the conversation below and choose the single action that fulfils the
LAST user message. Allowed actions:
- play: start the default playlist
- stop, pause, resume
- next, prev: skip forward or back one track
- info: tell what is currently playing
- load <playlist name>: play a named playlist
- message <text>: reply with text instead of acting, for example to ask
  which playlist the user means

Conversation:
{conversation_history}

Answer in exactly this format and nothing else:
reasoning: <one sentence>
action: <action>`

// UserError turns an internal failure into a short apology.
const UserError = `You are a friendly smart home voice assistant. Something went wrong
while handling the user's last request.

Conversation:
{conversation_history}

Internal error: {message}

Apologise to the user in one or two short spoken sentences in the language
of the conversation. Do not mention technical details or use markdown.`

// UserReply rephrases a device outcome for speech.
const UserReply = `You are a friendly smart home voice assistant.

Conversation:
{conversation_history}

The request was handled with this result: {message}

Tell the user the result in one short spoken sentence in the language of
the conversation. Do not use markdown.`
