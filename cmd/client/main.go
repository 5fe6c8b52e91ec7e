package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/urfave/cli"

	"github.com/Tyrowin/gorelay/internal/client"
	"github.com/Tyrowin/gorelay/internal/protocol"
)

func main() {
	app := cli.NewApp()
	app.Name = "gorelay-client"
	app.Usage = "Chat through a gorelay server"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "server,s",
			Usage: "Relay address",
			Value: "127.0.0.1:9999",
		},
		cli.StringFlag{
			Name:  "name,n",
			Usage: "Username (max 255 bytes); prompted when empty",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Printf("Error: %s\n", err.Error())
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	in := bufio.NewScanner(os.Stdin)

	username, err := promptUsername(in, os.Stdout, c.String("name"))
	if err != nil {
		return err
	}

	if username == "" {
		return nil
	}

	cl, err := client.Dial(c.String("server"), username)
	if err != nil {
		return err
	}
	defer cl.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	prompt := username + "> "
	var out sync.Mutex
	go func() {
		_ = cl.Receive(ctx, func(text string) {
			out.Lock()
			fmt.Printf("\r%s\n%s", text, prompt)
			out.Unlock()
		})
	}()

	if err := cl.Join("joined the chat"); err != nil {
		return err
	}
	fmt.Printf("Joined as %s. Type exit to quit.\n", username)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for in.Scan() {
			lines <- in.Text()
		}
	}()

	for {
		out.Lock()
		fmt.Print(prompt)
		out.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || strings.EqualFold(line, "exit") {
				return nil
			}
			if err := cl.Send(line); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		}
	}
}

// promptUsername asks for a username until a non-empty one that fits the
// length prefix is entered. An initial value from the command line is
// checked the same way. It returns "" when input ends first.
func promptUsername(in *bufio.Scanner, out io.Writer, initial string) (string, error) {
	username := strings.TrimSpace(initial)
	for {
		if len(username) > protocol.MaxUsernameLen {
			fmt.Fprintf(out, "Username is too long (max %d bytes).\n", protocol.MaxUsernameLen)
			username = ""
		}
		if username != "" {
			return username, nil
		}
		fmt.Fprintf(out, "Username (max %d bytes): ", protocol.MaxUsernameLen)
		if !in.Scan() {
			return "", in.Err()
		}
		username = strings.TrimSpace(in.Text())
	}
}
