package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/consoleprov/consoleprov/addone/dialogue"
	"github.com/consoleprov/consoleprov/pkg/console"
)

// sampleScript 校验 configure 段时使用的占位脚本
const sampleScript = "#!/bin/sh\necho configured\n"

// Dialogue 对话定义相关子命令
func Dialogue(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dialogue",
		Short: "Inspect dialogue platforms",
	}
	cmd.AddCommand(dialogueValidate())
	cmd.AddCommand(dialogueList(g))
	return cmd
}

func dialogueValidate() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.yaml>",
		Short: "Compile a dialogue definition file and print its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := dialogue.LoadFile(args[0])
			if err != nil {
				return err
			}
			p := dialogue.NewFilePlugin(def)
			out := cmd.OutOrStdout()

			install, err := p.InstallScript(dialogue.InstallParams{})
			if err != nil {
				return fmt.Errorf("install: %w", err)
			}
			printScript(cmd, install)

			if len(def.Configure.Login) > 0 {
				configure, err := p.ConfigureScript(dialogue.ConfigureParams{Content: []byte(sampleScript)})
				if err != nil {
					return fmt.Errorf("configure: %w", err)
				}
				printScript(cmd, configure)
			}
			fmt.Fprintf(out, "dialogue %s OK\n", p.Name())
			return nil
		},
	}
}

func dialogueList(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in platforms and those loaded from dialogue.dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.Dialogue.Dir); err == nil {
				if _, err := dialogue.RegisterDir(cfg.Dialogue.Dir); err != nil {
					return err
				}
			}
			for _, name := range dialogue.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func printScript(cmd *cobra.Command, s *console.Script) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d steps\n", s.Name(), s.Len())
	for i, st := range s.Steps() {
		fmt.Fprintf(out, "  %2d %-22s timeout=%-6s expect=%v\n", i, st.Name, st.Timeout, st.Labels())
	}
}
