// Package storage persists the small durable maps the bot owns: the birthday
// registry, the notification-channel directory and the membership roster.
//
// Every Save* call rewrites the whole map (overwrite semantics, not append),
// so a crash immediately after a successful save never loses that write and
// readers always see a complete snapshot.
package storage
