// Package tgui holds the Telegram presentation helpers shared by the router
// and the adapter: HTML escaping for ParseMode="HTML", inline marker
// keyboards and callback data.
package tgui
