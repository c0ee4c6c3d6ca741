package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はコンソールAPIサーバーとして起動する。
	CommandServe Command = "serve"
	// CommandWorker は認証データのクリーンアップワーカーとして起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandConfirm はサインアップ済みユーザーのメールアドレスを確認済みにする。
	// 第2引数にメールアドレスを取る。
	CommandConfirm Command = "confirm"
	// CommandHealthcheck はdistrolessイメージ内からHTTPヘルスチェックを行う。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandConfirm):     CommandConfirm,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 引数がない場合や未知のサブコマンドはserveとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := knownCommands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
