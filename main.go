package main

import "github.com/rasnes/movielens-etl/cmd"

func main() {
	cmd.Execute()
}
