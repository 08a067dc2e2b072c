package session

// Package session owns the shared authenticated session: the durable blob,
// the interactive (re-)authentication flow, and the generation counter that
// tells workers a fresher session exists.
