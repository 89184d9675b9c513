package dispatch

import (
	"fmt"
	"strings"
	"time"

	"livewatch/internal/model"
	"livewatch/internal/remote"
	"livewatch/internal/transition"
	kit "livewatch/internal/transport"
	"livewatch/pkg/tgui"
)

// InfoCallbackData is the callback payload of the button attached to live
// notifications.
const InfoCallbackData = "live_info"

const timeLayout = "2006-01-02 15:04"

func infoButtons() []kit.Button {
	return []kit.Button{{Text: "直播信息", Data: InfoCallbackData}}
}

// LiveCard renders the went-live notification. photoRef is the re-hosted
// cover and may be empty.
func LiveCard(sub model.Subscription, t transition.Transition, photoRef string) kit.Card {
	var started tgui.H
	if !t.SessionStart.IsZero() {
		started = tgui.Esc("开始时间 " + t.SessionStart.In(time.Local).Format(timeLayout))
	}
	var link tgui.H
	if sub.RoomReference != "" {
		link = tgui.Link("进入直播间", remote.RoomURL(sub.RoomReference))
	}
	text := tgui.Lines(
		tgui.Concat(tgui.B(displayName(sub)), "开播了"),
		tgui.Esc(t.Title),
		started,
		link,
	)
	return kit.Card{
		Text:     text.String(),
		PhotoRef: photoRef,
		Options:  kit.SendOptions{ParseMode: tgui.ParseMode, Buttons: infoButtons()},
	}
}

// ClosingCard renders the edit applied to a live notification once the
// session ended.
func ClosingCard(sub model.Subscription, t transition.Transition) kit.Card {
	text := tgui.Lines(
		tgui.Concat(tgui.B(displayName(sub)), "直播结束"),
		tgui.Esc(t.Title),
		tgui.Esc(DurationText(t.Duration())),
	)
	return kit.Card{
		Text:    text.String(),
		Options: kit.SendOptions{ParseMode: tgui.ParseMode, Buttons: infoButtons()},
	}
}

// DurationText renders "本次直播持续 H 小时 M 分钟".
func DurationText(e transition.Elapsed) string {
	return fmt.Sprintf("本次直播持续 %d 小时 %d 分钟", e.Hours, e.Minutes)
}

// InfoText is the short answer shown when the info button is pressed.
func InfoText(sub model.Subscription, now time.Time) string {
	st := sub.CurrentStatus()
	name := displayName(sub)
	if !st.IsLive {
		return fmt.Sprintf("%s 当前未开播", name)
	}
	e := transition.Breakdown(st.SessionStart, now)
	return fmt.Sprintf("%s 直播中: %s\n已开播 %d 小时 %d 分钟", name, st.Title, e.Hours, e.Minutes)
}

func displayName(sub model.Subscription) string {
	if strings.TrimSpace(sub.DisplayName) != "" {
		return sub.DisplayName
	}
	return sub.ID
}
