// Package transfer defines the contract with the media transfer engine and
// implements it on top of yt-dlp (via github.com/lrstanley/go-ytdlp). The
// engine reports progress through a callback; a non-nil callback error stops
// the transfer and is returned unchanged so control-flow signals survive.
package transfer
