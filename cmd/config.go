package main

import "roomsync/internal"

type Config struct {
	internal.Config

	Username string `env:"ROOM_USERNAME"`
	Password string `env:"ROOM_PASSWORD"`
	RoomID   string `env:"ROOM_ID,default=lobby"`
}
