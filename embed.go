package chatbotui

import "embed"

// TemplateFS contains the embedded HTML templates used for rendering the chat page. Templates are split
// into a layout, the page itself and partial views that are also pushed over SSE.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded static assets (script and stylesheet) served under /static/.
//
//go:embed static/*
var StaticFS embed.FS
