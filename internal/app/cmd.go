package app

import (
	"errors"
	"fmt"
)

// Command はサブコマンドを表す。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。引数省略時の既定。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションと登録待ちの掃除を定期実行する。
	CommandWorker Command = "worker"
	// CommandMigrate はマイグレーションを操作する（up, down [N], version）。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のサーバーの /health を確認する。
	// curlの無いdistrolessイメージのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
)

// ErrUnknownCommand は未知のサブコマンドが指定された場合に返される。
var ErrUnknownCommand = errors.New("unknown command")

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 残りの引数はサブコマンド側で扱う。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return "", fmt.Errorf("%w %q (want serve, worker, migrate or healthcheck)", ErrUnknownCommand, args[0])
	}
	return cmd, nil
}
