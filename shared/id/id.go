// Package id provides ID generation helpers used across services.
package id

import (
	nanoid "github.com/matoous/go-nanoid/v2"
)

const DefaultLength = 21

const (
	PrefixUser          = "usr"
	PrefixConversation  = "conv"
	PrefixMemory        = "mem"
	PrefixMemoryCommand = "cmd"
	PrefixKnowledge     = "kb"
	PrefixImage         = "img"
	PrefixInvite        = "inv"
	PrefixFrame         = "frm"
)

func New(prefix string) string {
	id, err := nanoid.New(DefaultLength)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewWithLength(prefix string, length int) string {
	id, err := nanoid.New(length)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewUser() string          { return New(PrefixUser) }
func NewConversation() string  { return New(PrefixConversation) }
func NewMemory() string        { return New(PrefixMemory) }
func NewMemoryCommand() string { return New(PrefixMemoryCommand) }
func NewKnowledge() string     { return New(PrefixKnowledge) }
func NewImage() string         { return New(PrefixImage) }
func NewInvite() string        { return New(PrefixInvite) }
func NewFrame() string         { return New(PrefixFrame) }
