// Package tgui provides small Telegram UI helpers: HTML escaping, inline and
// reply keyboards, callback data and a message builder that defaults to
// ParseMode=HTML with link previews disabled.
package tgui
