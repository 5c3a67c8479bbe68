package main

import (
	"os"

	"github.com/TencentBlueKing/bk-user-sub004/app"
)

func main() {
	err := app.Execute()
	if err != nil {
		os.Exit(1)
	}
}
