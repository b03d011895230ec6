// mmengine 做市报价 + TWAP 执行引擎（纸面交易后端）
package main

import (
	"fmt"
	"os"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
