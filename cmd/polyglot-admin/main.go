package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/polyglot-chat/polyglot/config"
	"github.com/polyglot-chat/polyglot/globals"
	"github.com/polyglot-chat/polyglot/persistence"
	"github.com/polyglot-chat/polyglot/types"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// A very simple CLI tool for the administration of polyglot rooms and users.

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
)

func main() {
	log.SetFlags(0)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		<-c
		log.Fatal("interrupted!")
	}()

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	if globalConfig.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	}

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	defer persister.Close()

	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show rooms, users or messages",
	}
	var cmdShowRooms = &cobra.Command{
		Use:   "rooms",
		Short: "Show rooms",
		Long:  `show rooms lists all available rooms.`,
		Run: func(cmd *cobra.Command, args []string) {
			rooms, err := persister.GetRooms()
			if err != nil {
				globals.AppLogger.Error("could not get rooms", "error", err)
				return
			}
			printJSON(rooms)
		},
	}
	var cmdShowRoom = &cobra.Command{
		Use:   "room [room id]",
		Short: "Show room",
		Long:  `show room prints detail information about the room with the given id.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			room := types.Room{Id: args[0]}
			if err := persister.GetRoom(&room); err != nil {
				globals.AppLogger.Error("could not get room", "error", err)
				return
			}
			printJSON(room)
		},
	}
	var cmdShowUsers = &cobra.Command{
		Use:   "users",
		Short: "Show users",
		Long:  `show users lists all registered users.`,
		Run: func(cmd *cobra.Command, args []string) {
			users, err := persister.GetUsers()
			if err != nil {
				globals.AppLogger.Error("could not get users", "error", err)
				return
			}
			printJSON(users)
		},
	}
	var cmdShowUser = &cobra.Command{
		Use:   "user [user id]",
		Short: "Show user",
		Long:  `show user prints detail information about the user with the given id.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			user := types.User{Id: args[0]}
			if err := persister.GetUser(&user); err != nil {
				globals.AppLogger.Error("could not get user", "error", err)
				return
			}
			printJSON(user)
		},
	}
	var cmdShowMessages = &cobra.Command{
		Use:   "messages [room id]",
		Short: "Show messages",
		Long:  `show messages prints the most recent messages of the room with the given id.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			limit, _ := cmd.Flags().GetInt("limit")
			messages, err := persister.GetMessages(args[0], limit)
			if err != nil {
				globals.AppLogger.Error("could not get messages", "error", err)
				return
			}
			printJSON(messages)
		},
	}
	cmdShowMessages.Flags().Int("limit", 50, "maximum number of messages")

	var cmdSet = &cobra.Command{
		Use:   "set",
		Short: "Create or update rooms or users",
	}
	var cmdSetRoom = &cobra.Command{
		Use:   "room [room name]",
		Short: "Create a room",
		Long:  `set room creates the room with the given name if it does not exist yet.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			room, err := persister.GetOrCreateRoom(args[0])
			if err != nil {
				globals.AppLogger.Error("could not create room", "error", err)
				return
			}
			printJSON(room)
		},
	}
	var cmdSetUser = &cobra.Command{
		Use:   "user [username] [language]",
		Short: "Create or update a user",
		Long:  `set user creates the user with the given name, or updates the preferred language of an existing user.`,
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			username, language := args[0], args[1]
			user, err := persister.GetUserByName(username)
			if err == nil {
				if err := persister.UpdateUserLanguage(user.Id, language); err != nil {
					globals.AppLogger.Error("could not update user", "error", err)
					return
				}
				user.Language = language
				printJSON(user)
				return
			}
			newUser := types.User{
				Id:        uuid.NewString(),
				Username:  username,
				Language:  language,
				CreatedAt: time.Now().UTC(),
			}
			if err := persister.StoreUser(newUser); err != nil {
				globals.AppLogger.Error("could not store user", "error", err)
				return
			}
			printJSON(newUser)
		},
	}

	var rootCmd = &cobra.Command{Use: "polyglot-admin"}
	rootCmd.SetArgs(pflag.Args())
	rootCmd.AddCommand(cmdShow, cmdSet)
	cmdShow.AddCommand(cmdShowRooms, cmdShowRoom, cmdShowUsers, cmdShowUser, cmdShowMessages)
	cmdSet.AddCommand(cmdSetRoom, cmdSetUser)
	if err := rootCmd.Execute(); err != nil {
		globals.AppLogger.Error("command failed", "error", err)
	}
}

func printJSON(v interface{}) {
	out, err := json.Marshal(v)
	if err != nil {
		globals.AppLogger.Error("could not marshal output", "error", err)
		return
	}
	fmt.Println(string(out))
}
