package main

import (
	"errors"
	"flag"
	"fmt"
)

// options are the command-line choices for one device.
type options struct {
	host       string
	join       string
	name       string
	session    string
	statusPort string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("hitster", flag.ContinueOnError)
	fs.StringVar(&o.host, "host", "", "create a room and host it under this name")
	fs.StringVar(&o.join, "join", "", "lobby code of the room to join")
	fs.StringVar(&o.name, "name", "", "player name when joining")
	fs.StringVar(&o.session, "session", "", "device session id (random when empty)")
	fs.StringVar(&o.statusPort, "status-port", "", "serve the local snapshot on this port")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	switch {
	case o.host == "" && o.join == "":
		return o, errors.New("one of -host or -join is required")
	case o.host != "" && o.join != "":
		return o, errors.New("-host and -join are mutually exclusive")
	case o.join != "" && o.name == "":
		return o, fmt.Errorf("-name is required with -join")
	}
	return o, nil
}
