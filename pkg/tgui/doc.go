// Package tgui holds small helpers for building Telegram HTML messages that
// are safe to send with ParseMode="HTML".
package tgui
