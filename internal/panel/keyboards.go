package panel

import (
	tele "gopkg.in/telebot.v4"

	"relaybot/pkg/tgui"
)

// Reply keyboard labels. Each one is routed to a command in buttons().
const (
	btnSources    = "📤 Sources"
	btnDests      = "📥 Destinations"
	btnPosts      = "📋 Posts"
	btnSendMode   = "⏰ Send mode"
	btnAdminPanel = "👑 Admin panel"

	btnAddSource   = "➕ Add source"
	btnListSources = "📜 List sources"
	btnDelSource   = "➖ Remove source"

	btnAddDest   = "➕ Add destination"
	btnListDests = "📜 List destinations"
	btnDelDest   = "➖ Remove destination"

	btnSeconds  = "⏱ Seconds"
	btnMinutes  = "⏲ Minutes"
	btnHours    = "🕐 Hours"
	btnCurrent  = "📊 Current interval"
	btnStartFwd = "▶️ Start forwarding"
	btnStopFwd  = "🛑 Stop forwarding"

	btnActive   = "📗 Active posts"
	btnInactive = "📕 Inactive posts"

	btnAddAdmin   = "➕ Add admin"
	btnListAdmins = "📜 List admins"
	btnDelAdmin   = "➖ Remove admin"
	btnStats      = "📊 Bot stats"

	btnBack = "🔙 Back"

	// CancelLabel aborts an open prompt.
	CancelLabel = "❌ Cancel"
)

func mainMenu(owner bool) *tele.ReplyMarkup {
	rows := [][]string{
		{btnSources, btnDests},
		{btnPosts, btnSendMode},
	}
	if owner {
		rows = append(rows, []string{btnAdminPanel})
	}
	return tgui.Keyboard(rows...)
}

func sourcesMenu() *tele.ReplyMarkup {
	return tgui.Keyboard(
		[]string{btnAddSource, btnListSources},
		[]string{btnDelSource, btnBack},
	)
}

func destsMenu() *tele.ReplyMarkup {
	return tgui.Keyboard(
		[]string{btnAddDest, btnListDests},
		[]string{btnDelDest, btnBack},
	)
}

func sendModeMenu(running bool) *tele.ReplyMarkup {
	toggle := btnStartFwd
	if running {
		toggle = btnStopFwd
	}
	return tgui.Keyboard(
		[]string{btnSeconds, btnMinutes},
		[]string{btnHours, btnCurrent},
		[]string{toggle, btnBack},
	)
}

func postsMenu() *tele.ReplyMarkup {
	return tgui.Keyboard(
		[]string{btnActive, btnInactive},
		[]string{btnBack},
	)
}

func adminMenu() *tele.ReplyMarkup {
	return tgui.Keyboard(
		[]string{btnAddAdmin, btnListAdmins},
		[]string{btnDelAdmin, btnStats},
		[]string{btnBack},
	)
}

func cancelMenu() *tele.ReplyMarkup {
	return tgui.Keyboard([]string{CancelLabel})
}

func toggleLabel(active bool) string {
	if active {
		return "✅ On"
	}
	return "❌ Off"
}
