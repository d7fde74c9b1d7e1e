package main

import (
	"vqa-server-go/src/cli"

	// 导入所有VQA后端以确保init函数被调用
	_ "vqa-server-go/src/core/providers/vqa/huggingface"
	_ "vqa-server-go/src/core/providers/vqa/llava"
	_ "vqa-server-go/src/core/providers/vqa/ollama"
	_ "vqa-server-go/src/core/providers/vqa/openai"
)

var version = "dev"

func main() {
	cli.Execute(version)
}
