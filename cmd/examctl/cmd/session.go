package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and remember the session",
	Long: `Sign in as a student. Signing in ends any session the same student holds on
another device.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			password = conf.GetString("password")
		}
		if email == "" || password == "" {
			return errors.New("--email and --password (or EXAMCTL_PASSWORD) are required")
		}

		st, err := openState()
		if err != nil {
			return err
		}
		defer st.Close()
		c, err := st.client(logger(), false)
		if err != nil {
			return err
		}
		res, err := c.Login(cmd.Context(), email, password)
		if err != nil {
			return err
		}
		if err := st.saveLogin(res); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%s)\n", res.UserID, res.Role)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openState()
		if err != nil {
			return err
		}
		defer st.Close()
		c, err := st.client(logger(), true)
		if err != nil {
			return err
		}
		logoutErr := c.Logout(cmd.Context())
		if err := st.forget(); err != nil {
			return err
		}
		if logoutErr != nil {
			return logoutErr
		}
		fmt.Fprintln(cmd.OutOrStdout(), "signed out")
		return nil
	},
}

var checkSessionCmd = &cobra.Command{
	Use:   "check-session",
	Short: "Ask the server whether the stored session is still the active one",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openState()
		if err != nil {
			return err
		}
		defer st.Close()
		c, err := st.client(logger(), true)
		if err != nil {
			return err
		}
		v, err := c.CheckSession(cmd.Context())
		if err != nil {
			return err
		}
		if !v.Valid {
			return errors.Errorf("session is not valid: %s", v.Reason)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "session is valid")
		return nil
	},
}

func init() {
	loginCmd.Flags().String("email", "", "student email")
	loginCmd.Flags().String("password", "", "password (or set EXAMCTL_PASSWORD)")
	rootCmd.AddCommand(loginCmd, logoutCmd, checkSessionCmd)
}
