package main

import "github.com/zaqqye/exam_guard/cmd/examctl/cmd"

func main() {
	cmd.Execute()
}
