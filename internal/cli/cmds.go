package cli

func regCommands() {
	//Identity
	identityCmd.AddCommand(identity_newCmd)
	identityCmd.AddCommand(identity_listCmd)

	//Root
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(postCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(identityCmd)
}
