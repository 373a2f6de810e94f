package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dmitrijs2005/authservice/internal/authctl"
)

func main() {

	ctx := context.Background()

	if err := authctl.Run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, authctl.ErrUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}

}
